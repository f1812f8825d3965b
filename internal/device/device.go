// Package device models the drives reported by sedutil-cli and the registry that indexes them.
package device

import (
	"fmt"
	"strconv"
)

const (
	// NotAvailable marks a value that is unknown or does not apply (e.g. the MSID of a non-TCG drive).
	NotAvailable = "N/A"
	// NotSupported marks a PBA version on drives without MBR shadowing.
	NotSupported = "Not Supported"
)

// OpalVersion is the TCG capability code reported by a scan.
type OpalVersion uint8

const (
	OpalUnknown OpalVersion = iota
	OpalNone
	Opal1
	Opal2
	Opal12
	OpalEnterprise
	OpalLite
	Pyrite
	Ruby
)

func (v OpalVersion) String() string {
	switch v {
	case OpalNone:
		return "None"
	case Opal1:
		return "Opal 1.0"
	case Opal2:
		return "Opal 2.0"
	case Opal12:
		return "Opal 1.0/2.0"
	case OpalEnterprise:
		return "Enterprise"
	case OpalLite:
		return "Opallite"
	case Pyrite:
		return "Pyrrite"
	case Ruby:
		return "Ruby"
	default:
		return "Unknown"
	}
}

// MarshalText renders the version by name.
func (v OpalVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// opalVersionOf maps the scan capability code to an OpalVersion.
func opalVersionOf(code string) OpalVersion {
	switch code {
	case "No":
		return OpalNone
	case "1":
		return Opal1
	case "2":
		return Opal2
	case "12":
		return Opal12
	case "E":
		return OpalEnterprise
	case "L":
		return OpalLite
	case "P":
		return Pyrite
	case "R":
		return Ruby
	default:
		return OpalUnknown
	}
}

// BlockSIDState is the state of the BlockSID feature.
type BlockSIDState uint8

const (
	BlockSIDNotSupported BlockSIDState = iota
	BlockSIDEnabled
	BlockSIDDisabled
)

func (s BlockSIDState) String() string {
	switch s {
	case BlockSIDEnabled:
		return "Enabled"
	case BlockSIDDisabled:
		return "Disabled"
	default:
		return "Not Supported"
	}
}

// MarshalText renders the state by name.
func (s BlockSIDState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity matches a drive across scans. Platform handles are not stable so they are not part of it.
type Identity struct {
	Vendor string
	Serial string
	Salt   string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s_%s", id.Vendor, id.Serial)
}

// Device is one physical drive.
type Device struct {
	Handle string `json:"handle"`
	Vendor string `json:"vendor"`
	Series string `json:"series"`
	Serial string `json:"serial"`
	// Salt is the raw serial field from the scan, used when hashing credentials.
	Salt string      `json:"-"`
	MSID string      `json:"-"`
	Opal OpalVersion `json:"opal_version"`

	// TCG is set when the drive answered the query with locking information.
	TCG            bool `json:"tcg"`
	LockingEnabled bool `json:"locking_enabled"`
	Locked         bool `json:"locked"`
	MBREnabled     bool `json:"mbr_enabled"`
	// Setup is set for drives that have been taken ownership of.
	Setup bool `json:"setup"`
	// TransientUnlock is set after a PBA unlock, which lasts only until the next power cycle.
	TransientUnlock bool `json:"transient_unlock,omitempty"`

	PBAVersion   string        `json:"pba_version"`
	BlockSID     BlockSIDState `json:"block_sid"`
	LockingUsers int           `json:"locking_users"`
}

// Identity returns the cross-scan identity of the device.
func (d Device) Identity() Identity {
	return Identity{Vendor: d.Vendor, Serial: d.Serial, Salt: d.Salt}
}

// UserAuthority is the highest locking SP User authority, which holds the drive's audit credential.
func (d Device) UserAuthority() string {
	if !d.TCG {
		return ""
	}
	return "User" + strconv.Itoa(d.LockingUsers)
}

// LockStatus is the display lock state of the device.
func (d Device) LockStatus() string {
	switch {
	case !d.TCG:
		return NotAvailable
	case d.Locked:
		return "Locked"
	default:
		return "Unlocked"
	}
}

// SetupStatus is the display setup state of the device.
func (d Device) SetupStatus() string {
	switch {
	case !d.TCG:
		return NotAvailable
	case d.Setup:
		return "Yes"
	default:
		return "No"
	}
}

// MSIDKnown reports whether the factory credential was read from the drive.
func (d Device) MSIDKnown() bool {
	return d.MSID != "" && d.MSID != NotAvailable
}
