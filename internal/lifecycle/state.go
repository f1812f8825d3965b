package lifecycle

import (
	"errors"
	"fmt"

	"github.com/sedlock/sedlock/internal/device"
)

// ErrIllegalTransition is returned when an operation is requested for a drive in a state that does not allow it.
var ErrIllegalTransition = errors.New("illegal transition")

// State is the lifecycle state of a drive.
type State uint8

const (
	// NotTCG drives do not implement the locking feature set.
	NotTCG State = iota
	// Unconfigured drives have not been taken ownership of.
	Unconfigured
	// Configuring is held while ownership is being claimed.
	Configuring
	// ConfiguredUnlocked drives are owned and readable.
	ConfiguredUnlocked
	// Locked drives are owned and their locking range is locked.
	Locked
	// UnlockedTransient drives were unlocked through the PBA authority and relock at the next power cycle.
	UnlockedTransient
	// Reverting is held while the drive is being returned to factory state.
	Reverting
)

func (s State) String() string {
	switch s {
	case NotTCG:
		return "not-tcg"
	case Unconfigured:
		return "unconfigured"
	case Configuring:
		return "configuring"
	case ConfiguredUnlocked:
		return "configured-unlocked"
	case Locked:
		return "locked"
	case UnlockedTransient:
		return "unlocked-transient"
	case Reverting:
		return "reverting"
	default:
		return "unknown"
	}
}

// StateOf derives the resting state of a drive from its registry record.
func StateOf(d device.Device) State {
	switch {
	case !d.TCG:
		return NotTCG
	case d.Locked:
		return Locked
	case !d.Setup:
		return Unconfigured
	case d.TransientUnlock:
		return UnlockedTransient
	default:
		return ConfiguredUnlocked
	}
}

// Operation names a lifecycle transition.
type Operation string

const (
	OpInitialSetup   Operation = "setup"
	OpChangePassword Operation = "change-password"
	OpLock           Operation = "lock"
	OpUnlock         Operation = "unlock"
	OpRevert         Operation = "revert"
	OpRevertPSID     Operation = "revert-psid"
	OpPBAWrite       Operation = "pba-write"
	OpPBAUSB         Operation = "pba-usb"
	OpSetupUser      Operation = "setup-user"
	OpReadAudit      Operation = "read-audit"
)

// configured are the resting states of an owned drive.
var configured = []State{ConfiguredUnlocked, Locked, UnlockedTransient}

// transition describes the states an operation may start from and the intermediate state it holds while running.
type transition struct {
	from []State
	via  State
}

var transitions = map[Operation]transition{
	OpInitialSetup:   {from: []State{Unconfigured}, via: Configuring},
	OpChangePassword: {from: configured},
	OpLock:           {from: []State{ConfiguredUnlocked, UnlockedTransient}},
	OpUnlock:         {from: []State{Locked}},
	OpRevert:         {from: configured, via: Reverting},
	OpRevertPSID:     {from: append([]State{Unconfigured}, configured...), via: Reverting},
	OpPBAWrite:       {from: configured},
	OpPBAUSB:         {from: configured},
	OpSetupUser:      {from: configured},
	OpReadAudit:      {from: configured},
}

// Allowed reports whether op may start from state s.
func Allowed(op Operation, s State) bool {
	for _, from := range transitions[op].from {
		if from == s {
			return true
		}
	}
	return false
}

// check returns ErrIllegalTransition when op may not start on d.
func check(op Operation, d device.Device) (State, error) {
	s := StateOf(d)
	if !Allowed(op, s) {
		return s, fmt.Errorf("%s on %s drive %s: %w", op, s, d.Handle, ErrIllegalTransition)
	}
	return s, nil
}

// Intermediate returns the state held while op runs, or the starting state when op has none.
func Intermediate(op Operation, from State) State {
	if via := transitions[op].via; via != NotTCG {
		return via
	}
	return from
}
