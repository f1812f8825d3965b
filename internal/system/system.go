// Package system identifies the host platform the drives are managed from.
package system

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"howett.net/plist"
)

const (
	// versionPath is the path on the root filesystem to the macOS SystemVersion plist
	versionPath = "/System/Library/CoreServices/SystemVersion.plist"

	// dotVersionPath references versionPath directly and bypasses the compatibility mode introduced with macOS 11.0.
	dotVersionPath = "/System/Library/CoreServices/.SystemVersionPlatform.plist"

	// dotVersionSwitch is the product version reported in compat mode (SYSTEM_VERSION_COMPAT=1).
	dotVersionSwitch = "10.16"

	// elevationHelper is prefixed to tool invocations on platforms where raw device access requires root.
	elevationHelper = "sudo"
)

// Family is an operating system family with its own device naming and elevation rules.
type Family uint8

const (
	UnknownFamily Family = iota
	Linux
	Darwin
	Windows
)

func (f Family) String() string {
	switch f {
	case Linux:
		return "linux"
	case Darwin:
		return "darwin"
	case Windows:
		return "windows"
	default:
		return "unknown"
	}
}

// FamilyOf maps a GOOS value to its Family.
func FamilyOf(goos string) Family {
	switch goos {
	case "linux":
		return Linux
	case "darwin":
		return Darwin
	case "windows":
		return Windows
	default:
		return UnknownFamily
	}
}

// System describes the running host.
type System struct {
	family  Family
	product *Product
	euid    int
}

// New creates a System for an explicit family and effective user id. It is mostly useful in tests.
func New(family Family, product *Product, euid int) *System {
	return &System{family: family, product: product, euid: euid}
}

func (sys *System) Family() Family {
	return sys.family
}

// Product is the macOS product, nil on other families.
func (sys *System) Product() *Product {
	return sys.product
}

// Elevated reports whether the process already runs with root privileges.
func (sys *System) Elevated() bool {
	return sys.family == Windows || sys.euid == 0
}

// ElevationPrefix returns the command prefix needed to reach raw devices. Windows binds the tool directly to
// device handles so no prefix is used there.
func (sys *System) ElevationPrefix() []string {
	if sys.Elevated() {
		return nil
	}
	return []string{elevationHelper}
}

// Scan detects the running host. On macOS the SystemVersion plist is read to identify the product.
func Scan() (*System, error) {
	system := &System{
		family: FamilyOf(runtime.GOOS),
		euid:   os.Geteuid(),
	}
	if system.family != Darwin {
		return system, nil
	}

	version, err := readVersion()
	if err != nil {
		return nil, err
	}

	product, err := version.Product()
	if err != nil {
		return nil, err
	}
	system.product = product

	return system, nil
}

// VersionInfo mirrors the raw data found in the SystemVersion plist file.
type VersionInfo struct {
	ProductBuildVersion       string `plist:"ProductBuildVersion"`
	ProductName               string `plist:"ProductName"`
	ProductUserVisibleVersion string `plist:"ProductUserVisibleVersion"`
	ProductVersion            string `plist:"ProductVersion"`
}

// Product determines the specific product that the VersionInfo.ProductVersion is associated with.
func (v *VersionInfo) Product() (*Product, error) {
	return newProduct(v.ProductVersion)
}

// decodeVersionInfo attempts to decode the raw data from the reader into a new VersionInfo struct.
func decodeVersionInfo(reader io.ReadSeeker) (*VersionInfo, error) {
	version := &VersionInfo{}
	if err := plist.NewDecoder(reader).Decode(version); err != nil {
		return nil, fmt.Errorf("system failed to decode contents of reader: %w", err)
	}

	return version, nil
}

// readVersion reads the SystemVersion plist, falling back to dotVersionPath when compat mode is reported.
func readVersion() (*VersionInfo, error) {
	version, err := readProductVersionFile(versionPath)
	if err != nil {
		return nil, err
	}

	if version.ProductVersion == dotVersionSwitch {
		return readProductVersionFile(dotVersionPath)
	}

	return version, nil
}

// readProductVersionFile opens the given file and attempts to decode it as VersionInfo.
func readProductVersionFile(path string) (*VersionInfo, error) {
	versionFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer versionFile.Close()

	return decodeVersionInfo(versionFile)
}
