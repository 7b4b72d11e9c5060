// Package probe implements the cheap phase-A reachability check.
package probe

import (
	"fmt"
	"net"
	"time"
)

// Prober reports whether a host looks alive. It is a func type so the
// sweep can be tested without touching the network.
type Prober func(host string) bool

// probePorts are tried in order; the first successful TCP connect wins.
// SNMP itself is UDP, so a listening management plane (SSH) or the SNMP
// port answering TCP both count as alive.
var probePorts = []int{161, 22}

// New returns a Prober with the given per-connect timeout.
func New(timeout time.Duration) Prober {
	return func(host string) bool {
		// An empty host would dial localhost.
		if host == "" {
			return false
		}
		for _, port := range probePorts {
			conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
			if err == nil {
				conn.Close()
				return true
			}
		}
		return false
	}
}
