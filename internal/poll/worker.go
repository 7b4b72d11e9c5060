// Package poll implements the per-device SNMP sweep and the fleet
// scheduler that drives it.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"linkmapd/internal/model"
	"linkmapd/internal/snmp"
	"linkmapd/internal/storage"
)

// CycleStore opens the write transaction for one device's cycle.
type CycleStore interface {
	BeginCycle(deviceID string) (storage.CycleTx, error)
}

// Worker polls one device per call: it fans out the interface and LLDP
// walks, decodes them and reconciles the result against storage in a
// single transaction.
type Worker struct {
	store    CycleStore
	snmp     snmp.Walker
	interval time.Duration
	log      zerolog.Logger
}

// NewWorker builds a Worker. interval is the poll cadence the rate
// computation divides by.
func NewWorker(store CycleStore, walker snmp.Walker, interval time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		store:    store,
		snmp:     walker,
		interval: interval,
		log:      log.With().Str("component", "worker").Logger(),
	}
}

// PollDevice runs one poll cycle for dev. The snapshot is a value, not
// a shared handle: concurrent workers never alias device state. All
// writes commit atomically; a device whose interface table cannot be
// read is marked down with its last-seen cleared.
func (w *Worker) PollDevice(ctx context.Context, dev model.DeviceSnapshot) error {
	log := w.log.With().Str("device", dev.Label()).Logger()

	if dev.IP == "" {
		log.Warn().Msg("no management ip configured, skipping")
		return nil
	}

	community := dev.Community
	if community == "" {
		community = "public"
	}

	var descr, oper, inOct, outOct, phys *snmp.Table
	var neighbors map[string]Neighbor

	// The five interface walks and the three LLDP walks run in one
	// 8-way fan-out so a slow column does not serialize the cycle.
	var wg sync.WaitGroup
	walks := []struct {
		oid string
		dst **snmp.Table
	}{
		{snmp.OIDIfDescr, &descr},
		{snmp.OIDIfOperStatus, &oper},
		{snmp.OIDIfInOctets, &inOct},
		{snmp.OIDIfOutOctets, &outOct},
		{snmp.OIDIfPhysAddr, &phys},
	}
	wg.Add(len(walks) + 1)
	for _, wk := range walks {
		go func(oid string, dst **snmp.Table) {
			defer wg.Done()
			table, err := w.snmp.Walk(ctx, dev.IP, community, oid)
			if err != nil {
				log.Debug().Err(err).Str("oid", oid).Msg("interface walk failed")
				return
			}
			*dst = table
		}(wk.oid, wk.dst)
	}
	go func() {
		defer wg.Done()
		neighbors = collectNeighbors(ctx, w.snmp, dev.IP, community, log)
	}()
	wg.Wait()

	tx, err := w.store.BeginCycle(dev.ID)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.Label(), err)
	}
	defer tx.Rollback()

	if descr == nil || descr.Len() == 0 {
		log.Info().Msg("interface table unavailable, marking device down")
		if err := tx.SetDeviceDown(); err != nil {
			return fmt.Errorf("device %s: %w", dev.Label(), err)
		}
		return tx.Commit()
	}

	records := decodeInterfaces(interfaceWalks{descr: descr, oper: oper, in: inOct, out: outOct, phys: phys}, w.interval, log)

	now := time.Now().UTC()
	for _, rec := range records {
		ifaceID, err := tx.UpsertInterface(model.Interface{
			Name:     rec.Name,
			Status:   rec.Status,
			MAC:      rec.MAC,
			SpeedBps: rec.SpeedBps,
		})
		if err != nil {
			log.Error().Err(err).Str("interface", rec.Name).Msg("interface upsert failed")
			continue
		}

		if err := tx.AppendStat(ifaceID, now, rec.InBps, rec.OutBps); err != nil {
			log.Error().Err(err).Str("interface", rec.Name).Msg("stat append failed")
			continue
		}

		neighbor, ok := neighbors[rec.Index]
		if !ok {
			continue
		}
		if err := reconcileNeighbor(tx, rec.Name, neighbor, now); err != nil {
			log.Error().Err(err).Str("interface", rec.Name).Str("neighbor", neighbor.Name).Msg("neighbor reconciliation failed")
		}
	}

	if err := tx.SetDeviceUp(now); err != nil {
		return fmt.Errorf("device %s: %w", dev.Label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("device %s: %w", dev.Label(), err)
	}

	log.Debug().Int("interfaces", len(records)).Int("neighbors", len(neighbors)).Msg("cycle committed")
	return nil
}

// reconcileNeighbor resolves one LLDP announcement to its destination
// and upserts the link. An announced IP matching a managed device wins;
// otherwise a named neighbor becomes (or refreshes) a discovered
// device. The raw announced hostname is kept on the link either way.
func reconcileNeighbor(tx storage.CycleTx, srcIface string, n Neighbor, now time.Time) error {
	link := model.TopologyLink{
		SrcInterface: srcIface,
		DstInterface: n.Iface,
		DstHostname:  n.Name,
	}

	if n.IP != "" {
		id, err := tx.DeviceIDByIP(n.IP)
		if err != nil {
			return err
		}
		link.DstDeviceID = id
	}

	if link.DstDeviceID == "" && n.Name != "" {
		id, err := tx.FindOrCreateDiscovered(n.Name, n.IP, now)
		if err != nil {
			return err
		}
		link.DstDiscoveredID = id

		if err := tx.SetLLDPHostname(n.Name); err != nil {
			return err
		}
	}

	if link.DstDeviceID == "" && link.DstDiscoveredID == "" && n.Name == "" && n.IP == "" {
		return nil
	}

	return tx.UpsertLink(link, now)
}
