package device

import (
	"errors"
	"fmt"
	"strings"
)

// Set names one of the index sets derived from the device list.
type Set uint8

const (
	// All is the unfiltered device list, including drives without TCG support.
	All Set = iota
	// Locked holds set up drives whose locking range is locked.
	Locked
	// Unlocked holds set up drives whose locking range is unlocked.
	Unlocked
	// Setup holds every drive with locking enabled and owned, locked or not.
	Setup
	// NonSetup holds TCG capable drives that have not been set up.
	NonSetup
	// AllTCG holds every TCG capable drive.
	AllTCG
)

func (s Set) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	case Setup:
		return "setup"
	case NonSetup:
		return "non-setup"
	case AllTCG:
		return "tcg"
	default:
		return "all"
	}
}

var (
	// ErrIndexOutOfRange is returned when a set index does not resolve to a device.
	ErrIndexOutOfRange = errors.New("device index out of range")
	// ErrStaleUpdate is returned when an update targets a device the registry no longer holds at that index.
	ErrStaleUpdate = errors.New("device changed since the update was prepared")
)

// Field is a bit set of device attributes changed by an Update.
type Field uint16

const (
	FieldLocked Field = 1 << iota
	FieldLockingEnabled
	FieldSetup
	FieldMBREnabled
	FieldPBAVersion
	FieldMSID
	FieldTransientUnlock
)

var fieldNames = []struct {
	field Field
	name  string
}{
	{FieldLocked, "locked"},
	{FieldLockingEnabled, "locking_enabled"},
	{FieldSetup, "setup"},
	{FieldMBREnabled, "mbr_enabled"},
	{FieldPBAVersion, "pba_version"},
	{FieldMSID, "msid"},
	{FieldTransientUnlock, "transient_unlock"},
}

// Names lists the attributes in the set.
func (f Field) Names() []string {
	var names []string
	for _, fn := range fieldNames {
		if f&fn.field != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Field) String() string {
	return strings.Join(f.Names(), ",")
}

// Update carries new attribute values for one device. Only the attributes named in Fields are applied. The
// device is addressed by its registry index and must still carry Identity when the update is applied.
type Update struct {
	Index    int
	Identity Identity
	Fields   Field
	Values   Device
}

// NewUpdate starts an update for the device at index.
func NewUpdate(index int, d Device) *Update {
	return &Update{Index: index, Identity: d.Identity()}
}

func (u *Update) SetLocked(locked bool) *Update {
	u.Fields |= FieldLocked
	u.Values.Locked = locked
	return u
}

func (u *Update) SetLockingEnabled(enabled bool) *Update {
	u.Fields |= FieldLockingEnabled
	u.Values.LockingEnabled = enabled
	return u
}

func (u *Update) SetSetup(setup bool) *Update {
	u.Fields |= FieldSetup
	u.Values.Setup = setup
	return u
}

func (u *Update) SetMBREnabled(enabled bool) *Update {
	u.Fields |= FieldMBREnabled
	u.Values.MBREnabled = enabled
	return u
}

func (u *Update) SetPBAVersion(version string) *Update {
	u.Fields |= FieldPBAVersion
	u.Values.PBAVersion = version
	return u
}

func (u *Update) SetMSID(msid string) *Update {
	u.Fields |= FieldMSID
	u.Values.MSID = msid
	return u
}

func (u *Update) SetTransientUnlock(transient bool) *Update {
	u.Fields |= FieldTransientUnlock
	u.Values.TransientUnlock = transient
	return u
}

// RegistryState owns the device list and the index sets derived from it. It is not safe for concurrent use: the
// owner mutates it only once a job has finished.
type RegistryState struct {
	devices []Device
	sets    map[Set][]int
}

// NewRegistryState builds a registry over devices and derives its index sets.
func NewRegistryState(devices []Device) *RegistryState {
	r := &RegistryState{devices: append([]Device(nil), devices...)}
	r.derive()
	return r
}

// derive recomputes every index set. A TCG device lands in exactly one of Locked, Unlocked and NonSetup.
func (r *RegistryState) derive() {
	r.sets = map[Set][]int{}
	for i, d := range r.devices {
		r.sets[All] = append(r.sets[All], i)
		if !d.TCG {
			continue
		}
		r.sets[AllTCG] = append(r.sets[AllTCG], i)
		switch {
		case d.Locked:
			r.sets[Locked] = append(r.sets[Locked], i)
			r.sets[Setup] = append(r.sets[Setup], i)
		case d.Setup:
			r.sets[Unlocked] = append(r.sets[Unlocked], i)
			r.sets[Setup] = append(r.sets[Setup], i)
		default:
			r.sets[NonSetup] = append(r.sets[NonSetup], i)
		}
	}
}

// Len returns the number of devices, TCG capable or not.
func (r *RegistryState) Len() int {
	return len(r.devices)
}

// Devices returns a copy of the device list.
func (r *RegistryState) Devices() []Device {
	return append([]Device(nil), r.devices...)
}

// Device returns the device at registry index i.
func (r *RegistryState) Device(i int) (Device, bool) {
	if i < 0 || i >= len(r.devices) {
		return Device{}, false
	}
	return r.devices[i], true
}

// Indices returns a copy of the registry indices held by set.
func (r *RegistryState) Indices(set Set) []int {
	return append([]int(nil), r.sets[set]...)
}

// Resolve maps position idx of set to the registry index and device it refers to.
func (r *RegistryState) Resolve(set Set, idx int) (int, Device, error) {
	indices := r.sets[set]
	if idx < 0 || idx >= len(indices) {
		return -1, Device{}, fmt.Errorf("%s[%d]: %w", set, idx, ErrIndexOutOfRange)
	}
	i := indices[idx]
	return i, r.devices[i], nil
}

// Lookup finds the position within set of the device with handle.
func (r *RegistryState) Lookup(set Set, handle string) (int, bool) {
	for pos, i := range r.sets[set] {
		if r.devices[i].Handle == handle {
			return pos, true
		}
	}
	return -1, false
}

// Find returns the registry index of the device with identity id.
func (r *RegistryState) Find(id Identity) (int, bool) {
	for i, d := range r.devices {
		if d.Identity() == id {
			return i, true
		}
	}
	return -1, false
}

// Apply writes the update into its device and recomputes the derived sets.
func (r *RegistryState) Apply(u Update) error {
	if u.Index < 0 || u.Index >= len(r.devices) {
		return fmt.Errorf("apply to device %d: %w", u.Index, ErrIndexOutOfRange)
	}
	d := &r.devices[u.Index]
	if d.Identity() != u.Identity {
		return fmt.Errorf("apply to %s: %w", u.Identity, ErrStaleUpdate)
	}

	v := u.Values
	if u.Fields&FieldLocked != 0 {
		d.Locked = v.Locked
	}
	if u.Fields&FieldLockingEnabled != 0 {
		d.LockingEnabled = v.LockingEnabled
	}
	if u.Fields&FieldSetup != 0 {
		d.Setup = v.Setup
	}
	if u.Fields&FieldMBREnabled != 0 {
		d.MBREnabled = v.MBREnabled
	}
	if u.Fields&FieldPBAVersion != 0 {
		d.PBAVersion = v.PBAVersion
	}
	if u.Fields&FieldMSID != 0 {
		d.MSID = v.MSID
	}
	if u.Fields&FieldTransientUnlock != 0 {
		d.TransientUnlock = v.TransientUnlock
	}

	r.derive()

	return nil
}

// merge carries values a new scan could not resolve over from the previous registry, matching devices by
// identity. The MSID is carried when the new scan could not read it, the PBA version when the new scan only
// knows that shadowing is supported.
func (r *RegistryState) merge(previous *RegistryState) {
	if previous == nil {
		return
	}
	for i := range r.devices {
		d := &r.devices[i]
		j, ok := previous.Find(d.Identity())
		if !ok {
			continue
		}
		old := previous.devices[j]
		if !d.MSIDKnown() && old.MSIDKnown() {
			d.MSID = old.MSID
		}
		if d.PBAVersion == NotAvailable && old.PBAVersion != NotSupported {
			d.PBAVersion = old.PBAVersion
		}
	}
}
