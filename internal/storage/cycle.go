package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"linkmapd/internal/model"
)

// cycleTx implements CycleTx on a single *sql.Tx. All statements target
// the device the cycle was opened for.
type cycleTx struct {
	tx       *sql.Tx
	deviceID string
}

func (c *cycleTx) SetDeviceUp(t time.Time) error {
	_, err := c.tx.Exec(
		"UPDATE devices SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?",
		model.StatusUp, t.UTC(), time.Now().UTC(), c.deviceID,
	)
	if err != nil {
		return fmt.Errorf("marking device up: %w", err)
	}
	return nil
}

// SetDeviceDown marks the device down and clears last_seen, so a device
// that answers ping but not SNMP does not look healthy.
func (c *cycleTx) SetDeviceDown() error {
	_, err := c.tx.Exec(
		"UPDATE devices SET status = ?, last_seen = NULL, updated_at = ? WHERE id = ?",
		model.StatusDown, time.Now().UTC(), c.deviceID,
	)
	if err != nil {
		return fmt.Errorf("marking device down: %w", err)
	}
	return nil
}

// SetLLDPHostname records the device's own LLDP system name, first
// writer wins: an already populated value is never overwritten.
func (c *cycleTx) SetLLDPHostname(name string) error {
	if name == "" {
		return nil
	}
	_, err := c.tx.Exec(
		"UPDATE devices SET lldp_hostname = ?, updated_at = ? WHERE id = ? AND (lldp_hostname IS NULL OR lldp_hostname = '')",
		name, time.Now().UTC(), c.deviceID,
	)
	if err != nil {
		return fmt.Errorf("recording lldp hostname: %w", err)
	}
	return nil
}

// UpsertInterface inserts or updates the interface identified by
// (device, name) and returns its ID. Status is always refreshed; MAC and
// speed only overwrite when the new sample carries them, so a transient
// walk gap does not erase known hardware facts.
func (c *cycleTx) UpsertInterface(rec model.Interface) (string, error) {
	var id string
	err := c.tx.QueryRow(
		"SELECT id FROM interfaces WHERE device_id = ? AND name = ?",
		c.deviceID, rec.Name,
	).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = newID()
		_, err = c.tx.Exec(
			"INSERT INTO interfaces (id, device_id, name, status, mac, speed_bps) VALUES (?, ?, ?, ?, ?, ?)",
			id, c.deviceID, rec.Name, rec.Status, nullString(rec.MAC), rec.SpeedBps,
		)
		if err != nil {
			return "", fmt.Errorf("inserting interface %s: %w", rec.Name, err)
		}
	case err != nil:
		return "", fmt.Errorf("querying interface %s: %w", rec.Name, err)
	default:
		query := "UPDATE interfaces SET status = ?"
		args := []any{rec.Status}
		if rec.MAC != "" {
			query += ", mac = ?"
			args = append(args, rec.MAC)
		}
		if rec.SpeedBps > 0 {
			query += ", speed_bps = ?"
			args = append(args, rec.SpeedBps)
		}
		query += " WHERE id = ?"
		args = append(args, id)
		if _, err := c.tx.Exec(query, args...); err != nil {
			return "", fmt.Errorf("updating interface %s: %w", rec.Name, err)
		}
	}

	return id, nil
}

// AppendStat records one throughput sample. Samples are append-only;
// retention is left to the operator.
func (c *cycleTx) AppendStat(interfaceID string, ts time.Time, inBps, outBps int64) error {
	_, err := c.tx.Exec(
		"INSERT INTO interface_stats (interface_id, ts, in_bps, out_bps) VALUES (?, ?, ?, ?)",
		interfaceID, ts.UTC(), inBps, outBps,
	)
	if err != nil {
		return fmt.Errorf("appending stat: %w", err)
	}
	return nil
}

// DeviceIDByIP returns the ID of the managed device with the given
// management IP, or "" when none exists.
func (c *cycleTx) DeviceIDByIP(ip string) (string, error) {
	var id string
	err := c.tx.QueryRow("SELECT id FROM devices WHERE ip = ?", ip).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying device by ip: %w", err)
	}
	return id, nil
}

// FindOrCreateDiscovered returns the discovered-device row for hostname,
// creating it on first sight and refreshing last_seen otherwise.
func (c *cycleTx) FindOrCreateDiscovered(hostname, ip string, now time.Time) (string, error) {
	var id string
	err := c.tx.QueryRow("SELECT id FROM discovered_devices WHERE hostname = ?", hostname).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = newID()
		_, err = c.tx.Exec(
			"INSERT INTO discovered_devices (id, hostname, ip, first_seen, last_seen) VALUES (?, ?, ?, ?, ?)",
			id, hostname, nullString(ip), now.UTC(), now.UTC(),
		)
		if err != nil {
			return "", fmt.Errorf("inserting discovered device %s: %w", hostname, err)
		}
	case err != nil:
		return "", fmt.Errorf("querying discovered device %s: %w", hostname, err)
	default:
		_, err = c.tx.Exec("UPDATE discovered_devices SET last_seen = ? WHERE id = ?", now.UTC(), id)
		if err != nil {
			return "", fmt.Errorf("updating discovered device %s: %w", hostname, err)
		}
	}

	return id, nil
}

// UpsertLink inserts a topology link or, when a link with the same
// source interface and destination already exists, refreshes its
// last_seen and reported hostname. Re-observing the same adjacency never
// duplicates rows.
func (c *cycleTx) UpsertLink(link model.TopologyLink, now time.Time) error {
	var id string
	err := c.tx.QueryRow(`
		SELECT id FROM topology_links
		WHERE src_device_id = ? AND src_interface = ?
		  AND dst_device_id IS ? AND dst_discovered_id IS ? AND dst_interface = ?`,
		c.deviceID, link.SrcInterface,
		nullString(link.DstDeviceID), nullString(link.DstDiscoveredID), link.DstInterface,
	).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = c.tx.Exec(`
			INSERT INTO topology_links (id, src_device_id, src_interface, dst_device_id, dst_discovered_id, dst_interface, dst_hostname, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			newID(), c.deviceID, link.SrcInterface,
			nullString(link.DstDeviceID), nullString(link.DstDiscoveredID),
			link.DstInterface, link.DstHostname, now.UTC(),
		)
		if err != nil {
			return fmt.Errorf("inserting link: %w", err)
		}
	case err != nil:
		return fmt.Errorf("querying link: %w", err)
	default:
		_, err = c.tx.Exec(
			"UPDATE topology_links SET last_seen = ?, dst_hostname = ? WHERE id = ?",
			now.UTC(), link.DstHostname, id,
		)
		if err != nil {
			return fmt.Errorf("updating link: %w", err)
		}
	}

	return nil
}

func (c *cycleTx) Commit() error {
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("committing cycle: %w", err)
	}
	return nil
}

func (c *cycleTx) Rollback() error {
	return c.tx.Rollback()
}
