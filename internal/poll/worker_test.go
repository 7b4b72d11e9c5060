package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkmapd/internal/model"
	"linkmapd/internal/snmp"
	"linkmapd/internal/storage"
)

// fakeWalker serves canned walk results per OID.
type fakeWalker struct {
	tables map[string]*snmp.Table
	errs   map[string]error
}

func (f *fakeWalker) Get(ctx context.Context, target, community, oid string) (any, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeWalker) Walk(ctx context.Context, target, community, oid string) (*snmp.Table, error) {
	if err := f.errs[oid]; err != nil {
		return nil, err
	}
	if t, ok := f.tables[oid]; ok {
		return t, nil
	}
	return snmp.NewTable(), nil
}

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(t.TempDir(), "", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addDevice(t *testing.T, s *storage.SQLiteStorage, hostname, ip string) *model.Device {
	t.Helper()
	d := &model.Device{Hostname: hostname, IP: ip, Community: "public"}
	require.NoError(t, s.CreateDevice(d))
	return d
}

// healthyWalker returns walk tables for a device with two interfaces,
// one LLDP neighbor announcing an IP and one announcing only a name.
func healthyWalker() *fakeWalker {
	return &fakeWalker{tables: map[string]*snmp.Table{
		snmp.OIDIfDescr: makeTable(snmp.OIDIfDescr, map[string]any{
			"1": []byte("Gi1/0/1"),
			"2": []byte("Gi1/0/2"),
		}),
		snmp.OIDIfOperStatus: makeTable(snmp.OIDIfOperStatus, map[string]any{
			"1": int64(1),
			"2": int64(2),
		}),
		snmp.OIDIfInOctets: makeTable(snmp.OIDIfInOctets, map[string]any{
			"1": int64(30000),
		}),
		snmp.OIDIfOutOctets: makeTable(snmp.OIDIfOutOctets, map[string]any{
			"1": int64(15000),
		}),
		snmp.OIDIfPhysAddr: makeTable(snmp.OIDIfPhysAddr, map[string]any{
			"1": []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		}),
		snmp.OIDLLDPRemSysName: makeTable(snmp.OIDLLDPRemSysName, map[string]any{
			"0.1.1": []byte("edge-rtr2"),
			"0.2.2": []byte("printer-7"),
		}),
		snmp.OIDLLDPRemPortDesc: makeTable(snmp.OIDLLDPRemPortDesc, map[string]any{
			"0.1.1": []byte("Gi2/0/9"),
		}),
		snmp.OIDLLDPRemManAddrOID: makeTable(snmp.OIDLLDPRemManAddrOID, map[string]any{
			"0.1.1.1.4.10.0.0.2": int64(2),
		}),
	}}
}

func TestPollDeviceMarksDownWhenInterfaceTableFails(t *testing.T) {
	store := newTestStore(t)
	dev := addDevice(t, store, "core-sw1", "10.0.0.1")

	now := time.Now().UTC()
	require.NoError(t, store.SetStatuses([]storage.StatusUpdate{
		{DeviceID: dev.ID, Status: model.StatusUp, LastSeen: &now},
	}))

	walker := &fakeWalker{errs: map[string]error{snmp.OIDIfDescr: errors.New("timeout")}}
	w := NewWorker(store, walker, 30*time.Second, zerolog.Nop())

	require.NoError(t, w.PollDevice(context.Background(), dev.Snapshot()))

	got, err := store.GetDevice(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDown, got.Status)
	assert.Nil(t, got.LastSeen)

	ifaces, err := store.ListInterfaces(dev.ID)
	require.NoError(t, err)
	assert.Empty(t, ifaces)
}

func TestPollDeviceFullCycle(t *testing.T) {
	store := newTestStore(t)
	dev := addDevice(t, store, "core-sw1", "10.0.0.1")
	neighbor := addDevice(t, store, "edge-rtr2", "10.0.0.2")

	w := NewWorker(store, healthyWalker(), 30*time.Second, zerolog.Nop())
	require.NoError(t, w.PollDevice(context.Background(), dev.Snapshot()))

	got, err := store.GetDevice(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUp, got.Status)
	require.NotNil(t, got.LastSeen)

	ifaces, err := store.ListInterfaces(dev.ID)
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
	byName := map[string]model.Interface{}
	for _, iface := range ifaces {
		byName[iface.Name] = iface
	}
	assert.Equal(t, model.StatusUp, byName["Gi1/0/1"].Status)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", byName["Gi1/0/1"].MAC)
	assert.Equal(t, model.StatusDown, byName["Gi1/0/2"].Status)

	for _, iface := range ifaces {
		stats, err := store.RecentStats(iface.ID, 10)
		require.NoError(t, err)
		assert.Len(t, stats, 1, "one stat per interface per cycle")
	}

	// Neighbor with a managed IP resolves to that device; the named-only
	// neighbor becomes a discovered device.
	links, err := store.ListTopologyLinks()
	require.NoError(t, err)
	require.Len(t, links, 2)
	bySrc := map[string]model.TopologyLink{}
	for _, l := range links {
		bySrc[l.SrcInterface] = l
	}

	resolved := bySrc["Gi1/0/1"]
	assert.Equal(t, neighbor.ID, resolved.DstDeviceID)
	assert.Equal(t, "Gi2/0/9", resolved.DstInterface)
	assert.Equal(t, "edge-rtr2", resolved.DstHostname)

	discovered := bySrc["Gi1/0/2"]
	assert.Empty(t, discovered.DstDeviceID)
	assert.NotEmpty(t, discovered.DstDiscoveredID)
	assert.Equal(t, "printer-7", discovered.DstHostname)

	dd, err := store.ListDiscoveredDevices()
	require.NoError(t, err)
	require.Len(t, dd, 1)
	assert.Equal(t, "printer-7", dd[0].Hostname)

	// First named neighbor is recorded as the device's LLDP hostname.
	assert.Equal(t, "printer-7", got.LLDPHostname)
}

func TestPollDeviceIdempotent(t *testing.T) {
	store := newTestStore(t)
	dev := addDevice(t, store, "core-sw1", "10.0.0.1")
	addDevice(t, store, "edge-rtr2", "10.0.0.2")

	w := NewWorker(store, healthyWalker(), 30*time.Second, zerolog.Nop())
	require.NoError(t, w.PollDevice(context.Background(), dev.Snapshot()))
	require.NoError(t, w.PollDevice(context.Background(), dev.Snapshot()))

	ifaces, err := store.ListInterfaces(dev.ID)
	require.NoError(t, err)
	assert.Len(t, ifaces, 2, "re-poll must not duplicate interfaces")

	for _, iface := range ifaces {
		stats, err := store.RecentStats(iface.ID, 10)
		require.NoError(t, err)
		assert.Len(t, stats, 2, "stats append once per cycle")
	}

	links, err := store.ListTopologyLinks()
	require.NoError(t, err)
	assert.Len(t, links, 2, "re-observation refreshes links, never duplicates")

	dd, err := store.ListDiscoveredDevices()
	require.NoError(t, err)
	assert.Len(t, dd, 1)
}

// fakeCycleTx records cycle writes and can fail the upsert of one
// interface by name.
type fakeCycleTx struct {
	failUpsert string
	upserts    []string
	stats      []string
	links      []model.TopologyLink
	markedUp   bool
	committed  bool
	rolledBack bool
}

func (f *fakeCycleTx) SetDeviceUp(time.Time) error { f.markedUp = true; return nil }
func (f *fakeCycleTx) SetDeviceDown() error        { return nil }
func (f *fakeCycleTx) SetLLDPHostname(string) error {
	return nil
}

func (f *fakeCycleTx) UpsertInterface(rec model.Interface) (string, error) {
	if rec.Name == f.failUpsert {
		return "", errors.New("constraint violated")
	}
	f.upserts = append(f.upserts, rec.Name)
	return "iface-" + rec.Name, nil
}

func (f *fakeCycleTx) AppendStat(interfaceID string, _ time.Time, _, _ int64) error {
	f.stats = append(f.stats, interfaceID)
	return nil
}

func (f *fakeCycleTx) DeviceIDByIP(string) (string, error) { return "", nil }
func (f *fakeCycleTx) FindOrCreateDiscovered(string, string, time.Time) (string, error) {
	return "discovered-1", nil
}

func (f *fakeCycleTx) UpsertLink(link model.TopologyLink, _ time.Time) error {
	f.links = append(f.links, link)
	return nil
}

func (f *fakeCycleTx) Commit() error   { f.committed = true; return nil }
func (f *fakeCycleTx) Rollback() error { f.rolledBack = true; return nil }

type fakeCycleStore struct {
	tx *fakeCycleTx
}

func (f *fakeCycleStore) BeginCycle(string) (storage.CycleTx, error) {
	return f.tx, nil
}

func TestPollDeviceInterfaceErrorIsolated(t *testing.T) {
	// One interface fails its upsert; the sibling still gets its
	// upsert, stat and link, and the cycle commits with the device up.
	tx := &fakeCycleTx{failUpsert: "Gi1/0/1"}
	w := NewWorker(&fakeCycleStore{tx: tx}, healthyWalker(), 30*time.Second, zerolog.Nop())

	snap := model.DeviceSnapshot{ID: "dev-1", Hostname: "core-sw1", IP: "10.0.0.1", Community: "public"}
	require.NoError(t, w.PollDevice(context.Background(), snap))

	assert.Equal(t, []string{"Gi1/0/2"}, tx.upserts)
	assert.Equal(t, []string{"iface-Gi1/0/2"}, tx.stats)
	require.Len(t, tx.links, 1)
	assert.Equal(t, "Gi1/0/2", tx.links[0].SrcInterface)
	assert.Equal(t, "printer-7", tx.links[0].DstHostname)
	assert.True(t, tx.markedUp)
	assert.True(t, tx.committed)
}

func TestPollDeviceWithoutIP(t *testing.T) {
	store := newTestStore(t)
	w := NewWorker(store, &fakeWalker{}, 30*time.Second, zerolog.Nop())

	snap := model.DeviceSnapshot{ID: "x", Hostname: "no-ip"}
	require.NoError(t, w.PollDevice(context.Background(), snap))
}
