package storage

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"linkmapd/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStorage implements persistence on a single-file SQLite database.
// The pool is capped at one connection: every reader and writer serializes
// through it, which sidesteps SQLITE_BUSY under concurrent poll commits.
type SQLiteStorage struct {
	db     *sql.DB
	cipher *secretCipher
	log    zerolog.Logger
}

// NewSQLiteStorage opens (or creates) the database under dataDir and
// applies the schema. secretKey enables encryption of SNMP communities
// at rest; empty means plaintext.
func NewSQLiteStorage(dataDir, secretKey string, log zerolog.Logger) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "linkmapd.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &SQLiteStorage{
		db:     db,
		cipher: newSecretCipher(secretKey),
		log:    log.With().Str("component", "storage").Logger(),
	}
	s.log.Debug().Str("path", dbPath).Msg("database opened")

	return s, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateDevice inserts a new managed device. The ID is generated when
// empty and the community is encrypted before it touches disk.
func (s *SQLiteStorage) CreateDevice(d *model.Device) error {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = model.StatusUnknown
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	community, err := s.cipher.Encrypt(d.Community)
	if err != nil {
		return fmt.Errorf("encrypting community: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO devices (id, hostname, ip, community, status, lldp_hostname, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Hostname, d.IP, community, d.Status, nullString(d.LLDPHostname), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: ip %s", ErrDeviceExists, d.IP)
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// GetDevice looks a device up by ID, falling back to hostname, then IP.
func (s *SQLiteStorage) GetDevice(ref string) (*model.Device, error) {
	for _, col := range []string{"id", "hostname", "ip"} {
		row := s.db.QueryRow(
			"SELECT id, hostname, ip, community, status, last_seen, lldp_hostname, created_at, updated_at FROM devices WHERE "+col+" = ?",
			ref,
		)
		d, err := s.scanDevice(row)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("querying device: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, ref)
}

// GetDeviceByIP looks a device up by management IP only.
func (s *SQLiteStorage) GetDeviceByIP(ip string) (*model.Device, error) {
	row := s.db.QueryRow(
		"SELECT id, hostname, ip, community, status, last_seen, lldp_hostname, created_at, updated_at FROM devices WHERE ip = ?",
		ip,
	)
	d, err := s.scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ip %s", ErrDeviceNotFound, ip)
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// ListDevices returns all managed devices ordered by hostname.
func (s *SQLiteStorage) ListDevices() ([]model.Device, error) {
	rows, err := s.db.Query(
		"SELECT id, hostname, ip, community, status, last_seen, lldp_hostname, created_at, updated_at FROM devices ORDER BY hostname, ip",
	)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := s.scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	return devices, rows.Err()
}

// DeleteDevice removes a device; interfaces, stats and links cascade.
func (s *SQLiteStorage) DeleteDevice(id string) error {
	res, err := s.db.Exec("DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return nil
}

// DeviceSnapshots returns the lightweight per-device view the poll sweep
// works from, communities decrypted.
func (s *SQLiteStorage) DeviceSnapshots() ([]model.DeviceSnapshot, error) {
	rows, err := s.db.Query("SELECT id, hostname, ip, community, status FROM devices")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var snaps []model.DeviceSnapshot
	for rows.Next() {
		var snap model.DeviceSnapshot
		if err := rows.Scan(&snap.ID, &snap.Hostname, &snap.IP, &snap.Community, &snap.Status); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		community, err := s.cipher.Decrypt(snap.Community)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", snap.ID, err)
		}
		snap.Community = community
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

// DeviceStatus returns the current stored status of one device.
func (s *SQLiteStorage) DeviceStatus(id string) (string, error) {
	var status string
	err := s.db.QueryRow("SELECT status FROM devices WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("querying device status: %w", err)
	}
	return status, nil
}

// SetStatuses applies a batch of reachability outcomes in one transaction.
// A nil LastSeen clears the stored timestamp.
func (s *SQLiteStorage) SetStatuses(updates []StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE devices SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("preparing update: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range updates {
		var lastSeen any
		if u.LastSeen != nil {
			lastSeen = u.LastSeen.UTC()
		}
		if _, err := stmt.Exec(u.Status, lastSeen, now, u.DeviceID); err != nil {
			return fmt.Errorf("updating device %s: %w", u.DeviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing statuses: %w", err)
	}
	return nil
}

// BeginCycle opens the write transaction for one device's poll cycle.
func (s *SQLiteStorage) BeginCycle(deviceID string) (CycleTx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning cycle transaction: %w", err)
	}
	return &cycleTx{tx: tx, deviceID: deviceID}, nil
}

// ListInterfaces returns a device's interfaces ordered by name.
func (s *SQLiteStorage) ListInterfaces(deviceID string) ([]model.Interface, error) {
	rows, err := s.db.Query(
		"SELECT id, device_id, name, status, mac, speed_bps FROM interfaces WHERE device_id = ? ORDER BY name",
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying interfaces: %w", err)
	}
	defer rows.Close()

	return scanInterfaces(rows)
}

// InterfacesWithMAC returns every interface that has a MAC recorded,
// across all devices. The backfill matcher indexes these.
func (s *SQLiteStorage) InterfacesWithMAC() ([]model.Interface, error) {
	rows, err := s.db.Query(
		"SELECT id, device_id, name, status, mac, speed_bps FROM interfaces WHERE mac IS NOT NULL AND mac != ''",
	)
	if err != nil {
		return nil, fmt.Errorf("querying interfaces: %w", err)
	}
	defer rows.Close()

	return scanInterfaces(rows)
}

// RecentStats returns up to limit samples for an interface, newest first.
func (s *SQLiteStorage) RecentStats(interfaceID string, limit int) ([]model.InterfaceStat, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.Query(
		"SELECT id, interface_id, ts, in_bps, out_bps FROM interface_stats WHERE interface_id = ? ORDER BY ts DESC LIMIT ?",
		interfaceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	var stats []model.InterfaceStat
	for rows.Next() {
		var st model.InterfaceStat
		if err := rows.Scan(&st.ID, &st.InterfaceID, &st.Timestamp, &st.InBps, &st.OutBps); err != nil {
			return nil, fmt.Errorf("scanning stat: %w", err)
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

// ListDiscoveredDevices returns all LLDP-discovered neighbors ordered by
// hostname.
func (s *SQLiteStorage) ListDiscoveredDevices() ([]model.DiscoveredDevice, error) {
	rows, err := s.db.Query(
		"SELECT id, hostname, ip, first_seen, last_seen FROM discovered_devices ORDER BY hostname",
	)
	if err != nil {
		return nil, fmt.Errorf("querying discovered devices: %w", err)
	}
	defer rows.Close()

	var discovered []model.DiscoveredDevice
	for rows.Next() {
		var d model.DiscoveredDevice
		var ip sql.NullString
		if err := rows.Scan(&d.ID, &d.Hostname, &ip, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning discovered device: %w", err)
		}
		d.IP = ip.String
		discovered = append(discovered, d)
	}

	return discovered, rows.Err()
}

// ListTopologyLinks returns every stored link.
func (s *SQLiteStorage) ListTopologyLinks() ([]model.TopologyLink, error) {
	rows, err := s.db.Query(
		"SELECT id, src_device_id, src_interface, dst_device_id, dst_discovered_id, dst_interface, dst_hostname, last_seen FROM topology_links ORDER BY src_device_id, src_interface",
	)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

// UnresolvedLinks returns links whose destination is not yet a managed
// device, oldest first. limit <= 0 means no limit.
func (s *SQLiteStorage) UnresolvedLinks(limit int) ([]model.TopologyLink, error) {
	query := "SELECT id, src_device_id, src_interface, dst_device_id, dst_discovered_id, dst_interface, dst_hostname, last_seen FROM topology_links WHERE dst_device_id IS NULL ORDER BY last_seen"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unresolved links: %w", err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

// ResolveLinks applies a batch of backfill decisions atomically: each
// link gets its destination device set and the discovered placeholder
// reference cleared.
func (s *SQLiteStorage) ResolveLinks(resolutions []LinkResolution) error {
	if len(resolutions) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE topology_links
		SET dst_device_id = ?, dst_discovered_id = NULL,
		    dst_hostname = CASE WHEN ? != '' THEN ? ELSE dst_hostname END
		WHERE id = ? AND dst_device_id IS NULL`,
	)
	if err != nil {
		return fmt.Errorf("preparing update: %w", err)
	}
	defer stmt.Close()

	for _, r := range resolutions {
		res, err := stmt.Exec(r.DeviceID, r.Hostname, r.Hostname, r.LinkID)
		if err != nil {
			return fmt.Errorf("resolving link %s: %w", r.LinkID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("resolving link %s: %w", r.LinkID, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrLinkNotFound, r.LinkID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing resolutions: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanDevice(row scanner) (*model.Device, error) {
	var d model.Device
	var community string
	var lastSeen sql.NullTime
	var lldpHostname sql.NullString

	err := row.Scan(&d.ID, &d.Hostname, &d.IP, &community, &d.Status, &lastSeen, &lldpHostname, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeen = &t
	}
	d.LLDPHostname = lldpHostname.String

	d.Community, err = s.cipher.Decrypt(community)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", d.ID, err)
	}

	return &d, nil
}

func scanInterfaces(rows *sql.Rows) ([]model.Interface, error) {
	var ifaces []model.Interface
	for rows.Next() {
		var iface model.Interface
		var mac sql.NullString
		var speed sql.NullInt64
		if err := rows.Scan(&iface.ID, &iface.DeviceID, &iface.Name, &iface.Status, &mac, &speed); err != nil {
			return nil, fmt.Errorf("scanning interface: %w", err)
		}
		iface.MAC = mac.String
		iface.SpeedBps = speed.Int64
		ifaces = append(ifaces, iface)
	}
	return ifaces, rows.Err()
}

func scanLinks(rows *sql.Rows) ([]model.TopologyLink, error) {
	var links []model.TopologyLink
	for rows.Next() {
		var l model.TopologyLink
		var dstDevice, dstDiscovered sql.NullString
		if err := rows.Scan(&l.ID, &l.SrcDeviceID, &l.SrcInterface, &dstDevice, &dstDiscovered, &l.DstInterface, &l.DstHostname, &l.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		l.DstDeviceID = dstDevice.String
		l.DstDiscoveredID = dstDiscovered.String
		links = append(links, l)
	}
	return links, rows.Err()
}

// nullString maps "" to NULL for nullable text columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
