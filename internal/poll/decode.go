package poll

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"linkmapd/internal/model"
	"linkmapd/internal/snmp"
)

// InterfaceRecord is one decoded row of the interface table.
type InterfaceRecord struct {
	Index    string
	Name     string
	Status   string
	MAC      string
	InBps    int64
	OutBps   int64
	SpeedBps int64
}

// interfaceWalks carries the five column walks for one device. A nil
// table means that walk failed; the decoder defaults the affected
// fields instead of aborting.
type interfaceWalks struct {
	descr *snmp.Table
	oper  *snmp.Table
	in    *snmp.Table
	out   *snmp.Table
	phys  *snmp.Table
}

// decodeInterfaces turns the raw column walks into one record per
// interface index. The description walk drives iteration; a malformed
// row is logged and skipped without affecting its siblings.
func decodeInterfaces(w interfaceWalks, interval time.Duration, log zerolog.Logger) []InterfaceRecord {
	if w.descr == nil || w.descr.Len() == 0 {
		return nil
	}

	secs := int64(interval / time.Second)
	if secs < 1 {
		secs = 1
	}

	records := make([]InterfaceRecord, 0, w.descr.Len())
	w.descr.Each(func(index string, value any) {
		name := cleanString(value)
		if name == "" {
			log.Debug().Str("index", index).Msg("interface with empty description, skipping")
			return
		}

		rec := InterfaceRecord{
			Index:  index,
			Name:   name,
			Status: model.StatusDown,
		}
		if tableInt(w.oper, index) == 1 {
			rec.Status = model.StatusUp
		}

		inOct := tableInt(w.in, index)
		outOct := tableInt(w.out, index)
		rec.InBps = inOct * 8 / secs
		rec.OutBps = outOct * 8 / secs
		if inOct > 0 {
			rec.SpeedBps = rec.InBps
		}

		if raw, ok := tableValue(w.phys, index); ok {
			mac, err := FormatMAC(raw)
			if err != nil {
				log.Debug().Err(err).Str("interface", name).Msg("unusable physical address")
			}
			rec.MAC = mac
		}

		records = append(records, rec)
	})

	return records
}

// FormatMAC normalizes a physical-address value to lowercase colon-hex.
// Already colon-formatted strings pass through unchanged; raw sequences
// of at least six bytes use their first six. Anything else yields "".
func FormatMAC(v any) (string, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(val, "\x00", ""))
		if s == "" {
			return "", nil
		}
		if strings.Contains(s, ":") {
			return s, nil
		}
		raw = []byte(s)
	case []byte:
		raw = val
	default:
		return "", fmt.Errorf("unexpected physical address type %T", v)
	}

	if len(raw) < 6 {
		return "", nil
	}

	parts := make([]string, 6)
	for i, b := range raw[:6] {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":"), nil
}

// cleanString renders a walk value as text with NULs and other control
// characters removed.
func cleanString(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	case nil:
		return ""
	default:
		s = fmt.Sprint(val)
	}

	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func tableValue(t *snmp.Table, index string) (any, bool) {
	if t == nil {
		return nil, false
	}
	return t.Get(index)
}

func tableInt(t *snmp.Table, index string) int64 {
	v, ok := tableValue(t, index)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case uint:
		return int64(n)
	default:
		return 0
	}
}
