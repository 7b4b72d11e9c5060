package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"linkmapd/internal/model"
)

var (
	// ErrDeviceNotFound is returned when a device is not found.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceExists is returned when creating a device whose IP is taken.
	ErrDeviceExists = errors.New("device already exists")
	// ErrLinkNotFound is returned when a topology link is not found.
	ErrLinkNotFound = errors.New("topology link not found")
)

// StatusUpdate carries one device's reachability outcome from phase A.
type StatusUpdate struct {
	DeviceID string
	Status   string
	LastSeen *time.Time
}

// LinkResolution is one backfill decision: link dst resolved to a device.
type LinkResolution struct {
	LinkID   string
	DeviceID string
	Hostname string
}

// CycleTx scopes all writes of one device's poll cycle to a single
// transaction. Nothing is visible to readers until Commit; any failure
// rolls back the whole cycle.
type CycleTx interface {
	SetDeviceUp(t time.Time) error
	SetDeviceDown() error
	SetLLDPHostname(name string) error
	UpsertInterface(rec model.Interface) (string, error)
	AppendStat(interfaceID string, ts time.Time, inBps, outBps int64) error
	DeviceIDByIP(ip string) (string, error)
	FindOrCreateDiscovered(hostname, ip string, now time.Time) (string, error)
	UpsertLink(link model.TopologyLink, now time.Time) error
	Commit() error
	Rollback() error
}

// newID generates a unique ID.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
