// Package topology implements the backfill matcher that repairs links
// whose destination never resolved to a managed device.
package topology

import (
	"regexp"
	"strings"
)

// DeviceIdentity is the slice of a managed device the matcher needs.
type DeviceIdentity struct {
	ID       string
	Hostname string
	IP       string
}

// InterfaceMAC pairs a known interface MAC with its owning device.
type InterfaceMAC struct {
	DeviceID string
	MAC      string
}

// Candidate is a proposed resolution for one unresolved link.
type Candidate struct {
	DeviceID string
	Hostname string
	Reason   string
}

// Labels containing these markers describe hardware or firmware, not
// neighbors, and are never matched.
var skipMarkers = []string{"adapter", "firmware", "fw_version"}

var (
	ipv4Pattern = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})`)
	macPattern  = regexp.MustCompile(`([0-9A-Fa-f]{12})`)
)

// Match tries to resolve a raw neighbor label to a managed device. The
// strategies run in strict priority order and the first hit wins:
// exact hostname, short hostname (label before the first dot),
// substring containment in either direction, an embedded IPv4 literal
// against device IPs, and an embedded 12-hex-digit run against known
// interface MACs. It is a pure function so every strategy can be
// tested without storage.
func Match(label string, devices []DeviceIdentity, ifaces []InterfaceMAC) (Candidate, bool) {
	name := strings.TrimSpace(label)
	if name == "" {
		return Candidate{}, false
	}

	lower := strings.ToLower(name)
	for _, marker := range skipMarkers {
		if strings.Contains(lower, marker) {
			return Candidate{}, false
		}
	}

	// 1) exact hostname
	for _, d := range devices {
		if d.Hostname != "" && strings.ToLower(d.Hostname) == lower {
			return Candidate{DeviceID: d.ID, Hostname: d.Hostname, Reason: "exact"}, true
		}
	}

	// 2) short hostname: the label portion before the first dot
	if i := strings.IndexByte(lower, '.'); i > 0 {
		short := lower[:i]
		for _, d := range devices {
			if d.Hostname != "" && strings.ToLower(d.Hostname) == short {
				return Candidate{DeviceID: d.ID, Hostname: d.Hostname, Reason: "short"}, true
			}
		}
	}

	// 3) substring containment, either direction
	for _, d := range devices {
		if d.Hostname == "" {
			continue
		}
		host := strings.ToLower(d.Hostname)
		if strings.Contains(lower, host) {
			return Candidate{DeviceID: d.ID, Hostname: d.Hostname, Reason: "contains_dst"}, true
		}
		if strings.Contains(host, lower) {
			return Candidate{DeviceID: d.ID, Hostname: d.Hostname, Reason: "contains_dev"}, true
		}
	}

	// 4) embedded IPv4 literal
	if ip := ipv4Pattern.FindString(name); ip != "" {
		for _, d := range devices {
			if d.IP != "" && d.IP == ip {
				return Candidate{DeviceID: d.ID, Hostname: d.Hostname, Reason: "ip:" + ip}, true
			}
		}
	}

	// 5) embedded 12-hex-digit run against interface MACs. Catches
	// labels like SEP<mac>.domain announced by IP phones.
	if hexstr := macPattern.FindString(name); hexstr != "" {
		hexstr = strings.ToLower(hexstr)
		hostnames := make(map[string]string, len(devices))
		for _, d := range devices {
			hostnames[d.ID] = d.Hostname
		}
		for _, iface := range ifaces {
			norm := normalizeMAC(iface.MAC)
			if norm == hexstr || strings.HasSuffix(norm, hexstr) {
				return Candidate{DeviceID: iface.DeviceID, Hostname: hostnames[iface.DeviceID], Reason: "mac:" + hexstr}, true
			}
		}
	}

	return Candidate{}, false
}

// normalizeMAC strips separators and folds case, leaving bare hex.
func normalizeMAC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
