package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevices() []Device {
	return []Device{
		{Handle: "/dev/sda", Vendor: "A", Serial: "1", Salt: "1", TCG: true, LockingEnabled: true, Locked: true, Setup: true},
		{Handle: "/dev/sdb", Vendor: "B", Serial: "2", Salt: "2", TCG: true, LockingEnabled: true, Setup: true},
		{Handle: "/dev/sdc", Vendor: "C", Serial: "3", Salt: "3", TCG: true},
		{Handle: "/dev/sdd", Vendor: "D", Serial: "4", Salt: "4", MSID: NotAvailable},
	}
}

func TestRegistryState_DerivedSets(t *testing.T) {
	r := NewRegistryState(testDevices())

	assert.Equal(t, []int{0, 1, 2, 3}, r.Indices(All))
	assert.Equal(t, []int{0}, r.Indices(Locked))
	assert.Equal(t, []int{1}, r.Indices(Unlocked))
	assert.Equal(t, []int{0, 1}, r.Indices(Setup))
	assert.Equal(t, []int{2}, r.Indices(NonSetup))
	assert.Equal(t, []int{0, 1, 2}, r.Indices(AllTCG))
}

func TestRegistryState_ExactlyOneClass(t *testing.T) {
	r := NewRegistryState(testDevices())

	for i, d := range r.Devices() {
		count := 0
		for _, set := range []Set{Locked, Unlocked, NonSetup} {
			for _, j := range r.Indices(set) {
				if j == i {
					count++
				}
			}
		}
		if d.TCG {
			assert.Equal(t, 1, count, "device %s should be in exactly one class", d.Handle)
		} else {
			assert.Equal(t, 0, count, "non-TCG device %s should be in no class", d.Handle)
		}
	}
}

func TestRegistryState_NonTCGOnlyInAll(t *testing.T) {
	r := NewRegistryState(testDevices())

	for _, set := range []Set{Locked, Unlocked, Setup, NonSetup, AllTCG} {
		assert.NotContains(t, r.Indices(set), 3, "set %s", set)
	}
	d, ok := r.Device(3)
	require.True(t, ok)
	assert.Equal(t, NotAvailable, d.LockStatus())
	assert.Equal(t, NotAvailable, d.SetupStatus())
	assert.Empty(t, d.UserAuthority())
}

func TestRegistryState_Resolve(t *testing.T) {
	r := NewRegistryState(testDevices())

	i, d, err := r.Resolve(Setup, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	assert.Equal(t, "/dev/sdb", d.Handle)

	_, _, err = r.Resolve(Locked, 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, _, err = r.Resolve(NonSetup, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestRegistryState_Lookup(t *testing.T) {
	r := NewRegistryState(testDevices())

	pos, ok := r.Lookup(AllTCG, "/dev/sdc")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)

	_, ok = r.Lookup(Locked, "/dev/sdc")
	assert.False(t, ok)
}

func TestRegistryState_Apply(t *testing.T) {
	r := NewRegistryState(testDevices())
	d, _ := r.Device(1)

	err := r.Apply(*NewUpdate(1, d).SetLocked(true))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, r.Indices(Locked))
	assert.Empty(t, r.Indices(Unlocked))
	got, _ := r.Device(1)
	assert.True(t, got.Locked)
	assert.True(t, got.LockingEnabled, "fields outside the update must be kept")
}

func TestRegistryState_ApplyRevert(t *testing.T) {
	r := NewRegistryState(testDevices())
	d, _ := r.Device(0)

	u := NewUpdate(0, d).SetLocked(false).SetLockingEnabled(false).SetSetup(false).SetPBAVersion(NotAvailable)
	require.NoError(t, r.Apply(*u))

	assert.Equal(t, []int{0, 2}, r.Indices(NonSetup))
	assert.Empty(t, r.Indices(Locked))
	assert.Equal(t, "locked,locking_enabled,setup,pba_version", u.Fields.String())
}

func TestRegistryState_ApplyStale(t *testing.T) {
	r := NewRegistryState(testDevices())
	other, _ := r.Device(2)

	err := r.Apply(*NewUpdate(1, other).SetLocked(true))
	assert.ErrorIs(t, err, ErrStaleUpdate)

	err = r.Apply(*NewUpdate(9, other).SetLocked(true))
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	got, _ := r.Device(1)
	assert.False(t, got.Locked)
}

func TestRegistryState_Merge(t *testing.T) {
	previous := NewRegistryState([]Device{
		{Vendor: "A", Serial: "1", Salt: "1", MSID: "MSIDA", PBAVersion: "1.0.0", TCG: true},
		{Vendor: "B", Serial: "2", Salt: "2", MSID: "MSIDB", PBAVersion: NotSupported, TCG: true},
	})

	r := NewRegistryState([]Device{
		// different handle, same identity
		{Handle: "/dev/sdz", Vendor: "A", Serial: "1", Salt: "1", MSID: NotAvailable, PBAVersion: NotAvailable, TCG: true},
		{Handle: "/dev/sdb", Vendor: "B", Serial: "2", Salt: "2", MSID: "FRESH", PBAVersion: NotAvailable, TCG: true},
		{Handle: "/dev/sdc", Vendor: "C", Serial: "3", Salt: "3", MSID: NotAvailable, PBAVersion: NotAvailable, TCG: true},
	})
	r.merge(previous)

	a, _ := r.Device(0)
	assert.Equal(t, "MSIDA", a.MSID)
	assert.Equal(t, "1.0.0", a.PBAVersion)

	b, _ := r.Device(1)
	assert.Equal(t, "FRESH", b.MSID, "resolved values are not replaced")
	assert.Equal(t, NotAvailable, b.PBAVersion)

	c, _ := r.Device(2)
	assert.Equal(t, NotAvailable, c.MSID)
}
