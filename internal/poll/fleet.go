package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"linkmapd/internal/model"
	"linkmapd/internal/probe"
	"linkmapd/internal/storage"
)

// FleetStore is the inventory view the scheduler needs.
type FleetStore interface {
	DeviceSnapshots() ([]model.DeviceSnapshot, error)
	SetStatuses(updates []storage.StatusUpdate) error
	DeviceStatus(id string) (string, error)
}

// DevicePoller runs one device's poll cycle.
type DevicePoller interface {
	PollDevice(ctx context.Context, dev model.DeviceSnapshot) error
}

// FleetConfig bounds the sweep.
type FleetConfig struct {
	Interval         time.Duration
	ProbeConcurrency int
	PollConcurrency  int
}

// Fleet runs the periodic two-phase sweep: a cheap TCP reachability
// pass over every device, then the SNMP poll over devices that are not
// down. Each phase has its own concurrency ceiling.
type Fleet struct {
	store  FleetStore
	poller DevicePoller
	probe  probe.Prober
	cfg    FleetConfig
	log    zerolog.Logger
}

// NewFleet builds the scheduler.
func NewFleet(store FleetStore, poller DevicePoller, prober probe.Prober, cfg FleetConfig, log zerolog.Logger) *Fleet {
	return &Fleet{
		store:  store,
		poller: poller,
		probe:  prober,
		cfg:    cfg,
		log:    log.With().Str("component", "fleet").Logger(),
	}
}

// RunCycle executes one full sweep. Device failures are logged, never
// propagated: the only errors returned are inventory reads and the
// phase-A batch write, which affect the whole cycle.
func (f *Fleet) RunCycle(ctx context.Context) error {
	snaps, err := f.store.DeviceSnapshots()
	if err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}
	if len(snaps) == 0 {
		f.log.Debug().Msg("no devices to poll")
		return nil
	}

	started := time.Now()
	updates := f.probePhase(snaps)
	if err := f.store.SetStatuses(updates); err != nil {
		return fmt.Errorf("storing reachability: %w", err)
	}

	f.pollPhase(ctx, snaps, updates)

	f.log.Info().Int("devices", len(snaps)).Dur("took", time.Since(started)).Msg("sweep complete")
	return nil
}

// probePhase probes every device concurrently and returns one status
// update per device, in input order.
func (f *Fleet) probePhase(snaps []model.DeviceSnapshot) []storage.StatusUpdate {
	updates := make([]storage.StatusUpdate, len(snaps))

	var wg sync.WaitGroup
	sem := make(chan struct{}, f.cfg.ProbeConcurrency)
	for i, dev := range snaps {
		wg.Add(1)
		go func(i int, dev model.DeviceSnapshot) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			update := storage.StatusUpdate{DeviceID: dev.ID, Status: model.StatusDown}
			if dev.IP != "" && f.probe(dev.IP) {
				now := time.Now().UTC()
				update.Status = model.StatusUp
				update.LastSeen = &now
			}
			updates[i] = update

			if dev.Status != update.Status {
				f.log.Info().
					Str("device", dev.Label()).
					Str("from", dev.Status).
					Str("to", update.Status).
					Msg("reachability changed")
			}
		}(i, dev)
	}
	wg.Wait()

	return updates
}

// pollPhase runs the device worker over every device phase A did not
// mark down. Status is re-checked after a slot is acquired: a device
// can go down between the probe and its turn in the pool.
func (f *Fleet) pollPhase(ctx context.Context, snaps []model.DeviceSnapshot, updates []storage.StatusUpdate) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, f.cfg.PollConcurrency)
	for i, dev := range snaps {
		if updates[i].Status == model.StatusDown {
			continue
		}

		wg.Add(1)
		go func(dev model.DeviceSnapshot) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			status, err := f.store.DeviceStatus(dev.ID)
			if err != nil {
				f.log.Error().Err(err).Str("device", dev.Label()).Msg("status recheck failed")
				return
			}
			if status == model.StatusDown {
				f.log.Debug().Str("device", dev.Label()).Msg("went down since probe, skipping")
				return
			}

			if err := f.poller.PollDevice(ctx, dev); err != nil {
				f.log.Error().Err(err).Str("device", dev.Label()).Msg("device poll failed")
			}
		}(dev)
	}
	wg.Wait()
}

// Run schedules RunCycle at the configured interval until ctx is
// cancelled. A tick that fires while the previous cycle is still in
// flight is skipped rather than overlapped, so one slow sweep cannot
// pile up goroutines.
func (f *Fleet) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{f.log})))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", f.cfg.Interval), func() {
		if err := f.RunCycle(ctx); err != nil {
			f.log.Error().Err(err).Msg("poll cycle failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling poll cycle: %w", err)
	}

	// First cycle fires immediately, not one interval in.
	if err := f.RunCycle(ctx); err != nil {
		f.log.Error().Err(err).Msg("poll cycle failed")
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}

// cronLogger adapts zerolog to the cron logging interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
