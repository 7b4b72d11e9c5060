package model

import (
	"time"
)

// Device status values as written by the poller.
const (
	StatusUnknown = "unknown"
	StatusUp      = "up"
	StatusDown    = "down"
)

// Device represents a managed device in the inventory. Identity fields
// (hostname, IP, community) come from inventory management; status,
// last-seen and the LLDP hostname are owned by the poller.
type Device struct {
	ID           string     `json:"id"`
	Hostname     string     `json:"hostname"`
	IP           string     `json:"ip"`
	Community    string     `json:"-"`
	Status       string     `json:"status"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	LLDPHostname string     `json:"lldp_hostname,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DeviceSnapshot is the immutable per-cycle view of a device handed to
// concurrent poll tasks. Tasks never share a live Device record.
type DeviceSnapshot struct {
	ID        string
	Hostname  string
	IP        string
	Community string
	Status    string
}

// Snapshot builds the poll-task view of a device.
func (d *Device) Snapshot() DeviceSnapshot {
	return DeviceSnapshot{
		ID:        d.ID,
		Hostname:  d.Hostname,
		IP:        d.IP,
		Community: d.Community,
		Status:    d.Status,
	}
}

// Label returns the best human identifier for logging.
func (s DeviceSnapshot) Label() string {
	if s.Hostname != "" {
		return s.Hostname
	}
	return s.ID
}

// Label returns the best human identifier for display.
func (d *Device) Label() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return d.ID
}

// Interface is a per-device interface, unique by name within its device.
// Rows are created and updated only by the poller and never deleted.
type Interface struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	MAC      string `json:"mac,omitempty"`
	SpeedBps int64  `json:"speed_bps,omitempty"`
}

// InterfaceStat is one append-only rate sample for an interface.
type InterfaceStat struct {
	ID          int64     `json:"id"`
	InterfaceID string    `json:"interface_id"`
	Timestamp   time.Time `json:"timestamp"`
	InBps       int64     `json:"in_bps"`
	OutBps      int64     `json:"out_bps"`
}

// DiscoveredDevice is a topology endpoint known only from LLDP
// announcements, keyed uniquely by the announced hostname.
type DiscoveredDevice struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	IP        string    `json:"ip,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// TopologyLink is a directed adjacency edge observed via LLDP. At most one
// of DstDeviceID / DstDiscoveredID is set; both empty means the neighbor is
// unresolved. DstHostname always retains the raw announced label.
type TopologyLink struct {
	ID              string    `json:"id"`
	SrcDeviceID     string    `json:"src_device_id"`
	SrcInterface    string    `json:"src_interface"`
	DstDeviceID     string    `json:"dst_device_id,omitempty"`
	DstDiscoveredID string    `json:"dst_discovered_id,omitempty"`
	DstInterface    string    `json:"dst_interface,omitempty"`
	DstHostname     string    `json:"dst_hostname,omitempty"`
	LastSeen        time.Time `json:"last_seen"`
}

// Resolved reports whether the link's destination has been matched to a
// managed device. Links pointing at discovered devices still count as
// unresolved for backfill purposes.
func (l *TopologyLink) Resolved() bool {
	return l.DstDeviceID != ""
}
