package snmp

import "strings"

// Table holds the result of one column walk, keyed by the OID suffix
// under the walked base. Iteration order matches the walk order.
type Table struct {
	indexes []string
	values  map[string]any
}

// NewTable returns an empty table ready for Add.
func NewTable() *Table {
	return &Table{values: make(map[string]any)}
}

// Add records one PDU under the suffix of oid relative to base. OIDs
// outside base are ignored.
func (t *Table) Add(base, oid string, value any) {
	suffix, ok := suffixOf(base, oid)
	if !ok {
		return
	}
	if _, seen := t.values[suffix]; !seen {
		t.indexes = append(t.indexes, suffix)
	}
	t.values[suffix] = value
}

// Get returns the value stored under index.
func (t *Table) Get(index string) (any, bool) {
	v, ok := t.values[index]
	return v, ok
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.indexes)
}

// Each visits rows in walk order.
func (t *Table) Each(fn func(index string, value any)) {
	for _, idx := range t.indexes {
		fn(idx, t.values[idx])
	}
}

func suffixOf(base, oid string) (string, bool) {
	base = strings.TrimPrefix(base, ".")
	oid = strings.TrimPrefix(oid, ".")
	if !strings.HasPrefix(oid, base+".") {
		return "", false
	}
	return oid[len(base)+1:], true
}

// LastComponent returns the final dotted component of an OID index.
// For the interface table this is the ifIndex.
func LastComponent(index string) string {
	if i := strings.LastIndexByte(index, '.'); i >= 0 {
		return index[i+1:]
	}
	return index
}
