package poll

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"linkmapd/internal/snmp"
)

// Neighbor is one resolved LLDP adjacency announcement.
type Neighbor struct {
	Name  string
	IP    string
	Iface string
}

// collectNeighbors walks the three LLDP remote-table columns
// concurrently and merges them. The returned map is keyed by the remote
// entry's interface index, which correlates with the local interface
// table.
func collectNeighbors(ctx context.Context, w snmp.Walker, target, community string, log zerolog.Logger) map[string]Neighbor {
	var (
		wg        sync.WaitGroup
		sys, port *snmp.Table
		man       *snmp.Table
	)

	walks := []struct {
		oid string
		dst **snmp.Table
	}{
		{snmp.OIDLLDPRemSysName, &sys},
		{snmp.OIDLLDPRemPortDesc, &port},
		{snmp.OIDLLDPRemManAddrOID, &man},
	}

	wg.Add(len(walks))
	for _, wk := range walks {
		go func(oid string, dst **snmp.Table) {
			defer wg.Done()
			table, err := w.Walk(ctx, target, community, oid)
			if err != nil {
				log.Debug().Err(err).Str("oid", oid).Msg("lldp walk failed")
				return
			}
			*dst = table
		}(wk.oid, wk.dst)
	}
	wg.Wait()

	return mergeNeighbors(sys, port, man)
}

// mergeNeighbors joins the three column walks by shared index suffix.
// Presence in the system-name walk decides which entries exist; port
// and address fields default to "" when their walks failed or lack the
// entry. An empty system-name walk means LLDP is off, not broken.
func mergeNeighbors(sys, port, man *snmp.Table) map[string]Neighbor {
	neighbors := make(map[string]Neighbor)
	if sys == nil || sys.Len() == 0 {
		return neighbors
	}

	sys.Each(func(suffix string, value any) {
		n := Neighbor{Name: cleanString(value)}

		if port != nil {
			if v, ok := port.Get(suffix); ok {
				n.Iface = cleanString(v)
			}
		}
		if man != nil {
			n.IP = manAddrIP(man, suffix)
		}

		neighbors[snmp.LastComponent(suffix)] = n
	})

	return neighbors
}

// manAddrIP finds the management address announced for one remote
// entry. The address table extends the entry's index with the address
// subtype and the address itself, so the IP lives in the OID suffix,
// not the value.
func manAddrIP(man *snmp.Table, entrySuffix string) string {
	var ip string
	man.Each(func(suffix string, _ any) {
		if ip != "" || !strings.HasPrefix(suffix, entrySuffix+".") {
			return
		}
		ip = parseManAddrIndex(suffix[len(entrySuffix)+1:])
	})
	return ip
}

// parseManAddrIndex decodes "subtype[.len].a.b.c.d" for IPv4 (subtype
// 1). Other address families yield "".
func parseManAddrIndex(rest string) string {
	parts := strings.Split(rest, ".")
	if len(parts) < 5 || parts[0] != "1" {
		return ""
	}

	quad := parts[len(parts)-4:]
	for _, p := range quad {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return ""
		}
	}
	return strings.Join(quad, ".")
}
