package topology

import (
	"fmt"

	"github.com/rs/zerolog"

	"linkmapd/internal/model"
	"linkmapd/internal/storage"
)

// Store is the storage surface the backfill job reads and writes.
type Store interface {
	UnresolvedLinks(limit int) ([]model.TopologyLink, error)
	ListDevices() ([]model.Device, error)
	InterfacesWithMAC() ([]model.Interface, error)
	ResolveLinks(resolutions []storage.LinkResolution) error
}

// Suggestion records one proposed or applied resolution.
type Suggestion struct {
	LinkID          string `json:"link_id"`
	SrcDeviceID     string `json:"src_device_id"`
	SrcInterface    string `json:"src_interface"`
	DstHostname     string `json:"dst_hostname"`
	MatchedDeviceID string `json:"matched_device_id"`
	MatchedHostname string `json:"matched_device_hostname"`
	Reason          string `json:"reason"`
}

// Report summarizes one backfill run.
type Report struct {
	Processed   int          `json:"processed"`
	Updated     int          `json:"updated"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Backfill resolves stored links in batch using the Match heuristics.
type Backfill struct {
	store Store
	log   zerolog.Logger
}

// NewBackfill builds the job.
func NewBackfill(store Store, log zerolog.Logger) *Backfill {
	return &Backfill{
		store: store,
		log:   log.With().Str("component", "backfill").Logger(),
	}
}

// Run processes unresolved links, up to limit of them (0 = all). With
// dryRun the report carries suggestions but nothing is written;
// otherwise all resolutions of the batch commit atomically.
func (b *Backfill) Run(dryRun bool, limit int) (*Report, error) {
	links, err := b.store.UnresolvedLinks(limit)
	if err != nil {
		return nil, fmt.Errorf("loading unresolved links: %w", err)
	}

	report := &Report{Suggestions: []Suggestion{}}
	if len(links) == 0 {
		return report, nil
	}

	devices, err := b.store.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}
	identities := make([]DeviceIdentity, len(devices))
	for i, d := range devices {
		identities[i] = DeviceIdentity{ID: d.ID, Hostname: d.Hostname, IP: d.IP}
	}

	ifaces, err := b.store.InterfacesWithMAC()
	if err != nil {
		return nil, fmt.Errorf("loading interface macs: %w", err)
	}
	macs := make([]InterfaceMAC, len(ifaces))
	for i, iface := range ifaces {
		macs[i] = InterfaceMAC{DeviceID: iface.DeviceID, MAC: iface.MAC}
	}

	var resolutions []storage.LinkResolution
	for _, link := range links {
		report.Processed++

		candidate, ok := Match(link.DstHostname, identities, macs)
		if !ok {
			continue
		}

		report.Suggestions = append(report.Suggestions, Suggestion{
			LinkID:          link.ID,
			SrcDeviceID:     link.SrcDeviceID,
			SrcInterface:    link.SrcInterface,
			DstHostname:     link.DstHostname,
			MatchedDeviceID: candidate.DeviceID,
			MatchedHostname: candidate.Hostname,
			Reason:          candidate.Reason,
		})
		b.log.Debug().
			Str("link", link.ID).
			Str("label", link.DstHostname).
			Str("device", candidate.Hostname).
			Str("reason", candidate.Reason).
			Msg("link matched")

		if !dryRun {
			resolutions = append(resolutions, storage.LinkResolution{
				LinkID:   link.ID,
				DeviceID: candidate.DeviceID,
				Hostname: candidate.Hostname,
			})
		}
	}

	if len(resolutions) > 0 {
		if err := b.store.ResolveLinks(resolutions); err != nil {
			return nil, fmt.Errorf("applying resolutions: %w", err)
		}
		report.Updated = len(resolutions)
	}

	b.log.Info().
		Bool("dry_run", dryRun).
		Int("processed", report.Processed).
		Int("matched", len(report.Suggestions)).
		Int("updated", report.Updated).
		Msg("backfill complete")

	return report, nil
}
