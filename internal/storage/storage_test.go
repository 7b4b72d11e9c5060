package storage

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkmapd/internal/model"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(t.TempDir(), "", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addDevice(t *testing.T, s *SQLiteStorage, hostname, ip string) *model.Device {
	t.Helper()
	d := &model.Device{Hostname: hostname, IP: ip, Community: "public"}
	require.NoError(t, s.CreateDevice(d))
	return d
}

func TestCreateAndGetDevice(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")
	require.NotEmpty(t, d.ID)

	for _, ref := range []string{d.ID, "core-sw1", "10.0.0.1"} {
		got, err := s.GetDevice(ref)
		require.NoError(t, err, "lookup by %q", ref)
		assert.Equal(t, d.ID, got.ID)
		assert.Equal(t, "public", got.Community)
		assert.Equal(t, model.StatusUnknown, got.Status)
		assert.Nil(t, got.LastSeen)
	}

	_, err := s.GetDevice("nope")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestCreateDeviceDuplicateIP(t *testing.T) {
	s := newTestStorage(t)
	addDevice(t, s, "core-sw1", "10.0.0.1")

	err := s.CreateDevice(&model.Device{Hostname: "other", IP: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrDeviceExists)
}

func TestDeleteDeviceCascades(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")

	tx, err := s.BeginCycle(d.ID)
	require.NoError(t, err)
	ifaceID, err := tx.UpsertInterface(model.Interface{Name: "eth0", Status: model.StatusUp})
	require.NoError(t, err)
	require.NoError(t, tx.AppendStat(ifaceID, time.Now(), 100, 200))
	require.NoError(t, tx.Commit())

	require.NoError(t, s.DeleteDevice(d.ID))

	ifaces, err := s.ListInterfaces(d.ID)
	require.NoError(t, err)
	assert.Empty(t, ifaces)

	assert.ErrorIs(t, s.DeleteDevice(d.ID), ErrDeviceNotFound)
}

func TestCommunityEncryptedAtRest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStorage(dir, "secret-key", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	d := &model.Device{Hostname: "core-sw1", IP: "10.0.0.1", Community: "s3cret"}
	require.NoError(t, s.CreateDevice(d))

	var stored string
	require.NoError(t, s.db.QueryRow("SELECT community FROM devices WHERE id = ?", d.ID).Scan(&stored))
	assert.NotEqual(t, "s3cret", stored)
	assert.NotContains(t, stored, "s3cret")

	got, err := s.GetDevice(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Community)

	snaps, err := s.DeviceSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "s3cret", snaps[0].Community)
}

func TestSetStatuses(t *testing.T) {
	s := newTestStorage(t)
	a := addDevice(t, s, "a", "10.0.0.1")
	b := addDevice(t, s, "b", "10.0.0.2")

	now := time.Now().UTC()
	require.NoError(t, s.SetStatuses([]StatusUpdate{
		{DeviceID: a.ID, Status: model.StatusUp, LastSeen: &now},
		{DeviceID: b.ID, Status: model.StatusDown},
	}))

	gotA, err := s.GetDevice(a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUp, gotA.Status)
	require.NotNil(t, gotA.LastSeen)

	gotB, err := s.GetDevice(b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDown, gotB.Status)
	assert.Nil(t, gotB.LastSeen)

	status, err := s.DeviceStatus(a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUp, status)
}

func TestCycleDeviceDownClearsLastSeen(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")

	now := time.Now().UTC()
	require.NoError(t, s.SetStatuses([]StatusUpdate{{DeviceID: d.ID, Status: model.StatusUp, LastSeen: &now}}))

	tx, err := s.BeginCycle(d.ID)
	require.NoError(t, err)
	require.NoError(t, tx.SetDeviceDown())
	require.NoError(t, tx.Commit())

	got, err := s.GetDevice(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDown, got.Status)
	assert.Nil(t, got.LastSeen)
}

func TestCycleRollbackLeavesNothing(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")

	tx, err := s.BeginCycle(d.ID)
	require.NoError(t, err)
	_, err = tx.UpsertInterface(model.Interface{Name: "eth0", Status: model.StatusUp})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	ifaces, err := s.ListInterfaces(d.ID)
	require.NoError(t, err)
	assert.Empty(t, ifaces)
}

func TestUpsertInterfaceIdempotent(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")

	tx, err := s.BeginCycle(d.ID)
	require.NoError(t, err)
	first, err := tx.UpsertInterface(model.Interface{Name: "eth0", Status: model.StatusUp, MAC: "aa:bb:cc:dd:ee:ff", SpeedBps: 800})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// Second cycle: same name, status change, no MAC in the sample.
	tx, err = s.BeginCycle(d.ID)
	require.NoError(t, err)
	second, err := tx.UpsertInterface(model.Interface{Name: "eth0", Status: model.StatusDown})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, first, second)

	ifaces, err := s.ListInterfaces(d.ID)
	require.NoError(t, err)
	require.Len(t, ifaces, 1)
	assert.Equal(t, model.StatusDown, ifaces[0].Status)
	// MAC and speed survive a sample that lacks them.
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", ifaces[0].MAC)
	assert.Equal(t, int64(800), ifaces[0].SpeedBps)
}

func TestAppendStatIsAppendOnly(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")

	tx, err := s.BeginCycle(d.ID)
	require.NoError(t, err)
	ifaceID, err := tx.UpsertInterface(model.Interface{Name: "eth0", Status: model.StatusUp})
	require.NoError(t, err)
	require.NoError(t, tx.AppendStat(ifaceID, time.Now(), 100, 200))
	require.NoError(t, tx.Commit())

	tx, err = s.BeginCycle(d.ID)
	require.NoError(t, err)
	require.NoError(t, tx.AppendStat(ifaceID, time.Now(), 300, 400))
	require.NoError(t, tx.Commit())

	stats, err := s.RecentStats(ifaceID, 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, int64(300), stats[0].InBps)
	assert.Equal(t, int64(100), stats[1].InBps)
}

func TestFindOrCreateDiscovered(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")

	first := time.Now().UTC().Add(-time.Hour)
	tx, err := s.BeginCycle(d.ID)
	require.NoError(t, err)
	id1, err := tx.FindOrCreateDiscovered("printer-7", "10.9.9.9", first)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	later := time.Now().UTC()
	tx, err = s.BeginCycle(d.ID)
	require.NoError(t, err)
	id2, err := tx.FindOrCreateDiscovered("printer-7", "", later)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, id1, id2)

	discovered, err := s.ListDiscoveredDevices()
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	assert.Equal(t, "printer-7", discovered[0].Hostname)
	assert.Equal(t, "10.9.9.9", discovered[0].IP)
	assert.True(t, discovered[0].LastSeen.After(discovered[0].FirstSeen))
}

func TestUpsertLinkRefreshesNotDuplicates(t *testing.T) {
	s := newTestStorage(t)
	src := addDevice(t, s, "core-sw1", "10.0.0.1")
	dst := addDevice(t, s, "edge-rtr2", "10.0.0.2")

	link := model.TopologyLink{
		SrcInterface: "Gi1/0/1",
		DstDeviceID:  dst.ID,
		DstInterface: "Gi2/0/9",
		DstHostname:  "edge-rtr2",
	}

	t1 := time.Now().UTC().Add(-time.Minute)
	tx, err := s.BeginCycle(src.ID)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLink(link, t1))
	require.NoError(t, tx.Commit())

	t2 := time.Now().UTC()
	tx, err = s.BeginCycle(src.ID)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLink(link, t2))
	require.NoError(t, tx.Commit())

	links, err := s.ListTopologyLinks()
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].LastSeen.After(t1))
}

func TestUpsertLinkDistinctDestinations(t *testing.T) {
	s := newTestStorage(t)
	src := addDevice(t, s, "core-sw1", "10.0.0.1")
	dst := addDevice(t, s, "edge-rtr2", "10.0.0.2")

	now := time.Now().UTC()
	tx, err := s.BeginCycle(src.ID)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLink(model.TopologyLink{SrcInterface: "Gi1/0/1", DstDeviceID: dst.ID, DstInterface: "Gi2/0/9", DstHostname: "edge-rtr2"}, now))
	require.NoError(t, tx.UpsertLink(model.TopologyLink{SrcInterface: "Gi1/0/2", DstHostname: "mystery-host"}, now))
	require.NoError(t, tx.Commit())

	links, err := s.ListTopologyLinks()
	require.NoError(t, err)
	assert.Len(t, links, 2)

	unresolved, err := s.UnresolvedLinks(0)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "mystery-host", unresolved[0].DstHostname)
}

func TestDeviceIDByIP(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")

	tx, err := s.BeginCycle(d.ID)
	require.NoError(t, err)
	defer tx.Rollback()

	id, err := tx.DeviceIDByIP("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, id)

	id, err = tx.DeviceIDByIP("10.0.0.99")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSetLLDPHostnameFirstWriterWins(t *testing.T) {
	s := newTestStorage(t)
	d := addDevice(t, s, "core-sw1", "10.0.0.1")

	tx, err := s.BeginCycle(d.ID)
	require.NoError(t, err)
	require.NoError(t, tx.SetLLDPHostname("core-sw1.example.net"))
	require.NoError(t, tx.SetLLDPHostname("other-name"))
	require.NoError(t, tx.Commit())

	got, err := s.GetDevice(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "core-sw1.example.net", got.LLDPHostname)
}

func TestResolveLinks(t *testing.T) {
	s := newTestStorage(t)
	src := addDevice(t, s, "core-sw1", "10.0.0.1")
	target := addDevice(t, s, "edge-rtr2", "10.0.0.2")

	now := time.Now().UTC()
	tx, err := s.BeginCycle(src.ID)
	require.NoError(t, err)
	discoveredID, err := tx.FindOrCreateDiscovered("EDGE-RTR2.example.net", "", now)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLink(model.TopologyLink{SrcInterface: "Gi1/0/1", DstDiscoveredID: discoveredID, DstHostname: "EDGE-RTR2.example.net"}, now))
	require.NoError(t, tx.Commit())

	unresolved, err := s.UnresolvedLinks(0)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	require.NoError(t, s.ResolveLinks([]LinkResolution{
		{LinkID: unresolved[0].ID, DeviceID: target.ID, Hostname: target.Hostname},
	}))

	links, err := s.ListTopologyLinks()
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, target.ID, links[0].DstDeviceID)
	assert.Empty(t, links[0].DstDiscoveredID)
	assert.Equal(t, "edge-rtr2", links[0].DstHostname)

	unresolved, err = s.UnresolvedLinks(0)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	// Resolving an unknown or already-resolved link fails the batch.
	err = s.ResolveLinks([]LinkResolution{{LinkID: links[0].ID, DeviceID: target.ID}})
	assert.ErrorIs(t, err, ErrLinkNotFound)
}
