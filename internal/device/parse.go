package device

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/sedlock/sedlock/internal/system"
)

// ErrParse is returned when tool output does not contain the expected data. Callers treat it as "no data".
var ErrParse = errors.New("unrecognized tool output")

// handlePatterns are the device names reported by a scan on each platform family.
var handlePatterns = map[system.Family][]string{
	system.Windows: {`PhysicalDrive[0-9]+`},
	system.Linux:   {`/dev/sd[a-z]+`, `/dev/nvme[0-9]+`},
	system.Darwin:  {`/dev/disk[0-9]+`},
}

// handlePrefix is prepended to matched names to form the handle passed back to the tool.
var handlePrefix = map[system.Family]string{
	system.Windows: `\\.\`,
}

// handleLead skips indentation and a Windows device namespace prefix before the captured device name.
const handleLead = `^\s*(?:\\\\\.\\)?(`

// scanLine captures the capability code, model, firmware series and raw serial that follow a device name.
const scanLine = `\s+([12ELPR]+|No)\s*(\S+(?:\s\S+)*)\s*:\s*([^:]+?)\s*:(.+)$`

// scanPatterns are compiled once per family from handlePatterns.
var scanPatterns = func() map[system.Family][]*regexp.Regexp {
	compiled := map[system.Family][]*regexp.Regexp{}
	for family, patterns := range handlePatterns {
		for _, p := range patterns {
			compiled[family] = append(compiled[family], regexp.MustCompile(handleLead+p+`)`+scanLine))
		}
	}
	return compiled
}()

// scanName matches lines that only name a device, for drives whose identity fields are missing.
var scanName = func() map[system.Family][]*regexp.Regexp {
	compiled := map[system.Family][]*regexp.Regexp{}
	for family, patterns := range handlePatterns {
		for _, p := range patterns {
			compiled[family] = append(compiled[family], regexp.MustCompile(handleLead+p+`)\s+(\S+)`))
		}
	}
	return compiled
}()

// ParseScan extracts the devices listed in scan output for the given platform family. Only the identity and Opal
// capability of each device are populated.
func ParseScan(family system.Family, output string) ([]Device, error) {
	patterns, ok := scanPatterns[family]
	if !ok {
		return nil, errors.New("unsupported platform family " + family.String())
	}

	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if d, ok := parseScanLine(family, patterns, line); ok {
			devices = append(devices, d)
		}
	}

	return devices, nil
}

func parseScanLine(family system.Family, patterns []*regexp.Regexp, line string) (Device, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		salt := m[5]
		return Device{
			Handle:     handlePrefix[family] + m[1],
			Opal:       opalVersionOf(m[2]),
			Vendor:     strings.TrimSpace(m[3]),
			Series:     strings.TrimSpace(m[4]),
			Salt:       salt,
			Serial:     strings.TrimSpace(strings.ReplaceAll(salt, " ", "")),
			MSID:       NotAvailable,
			PBAVersion: NotAvailable,
		}, true
	}

	for _, re := range scanName[family] {
		if m := re.FindStringSubmatch(line); m != nil {
			return Device{
				Handle:     handlePrefix[family] + m[1],
				Opal:       opalVersionOf(m[2]),
				MSID:       NotAvailable,
				PBAVersion: NotAvailable,
			}, true
		}
	}

	return Device{}, false
}

// Query holds the locking fields of a query response.
type Query struct {
	TCG            bool
	Locked         bool
	LockingEnabled bool
	MBREnabled     bool
	MBRSupported   bool
	LockingUsers   int
	BlockSID       BlockSIDState
}

// queryFields are the level 0 discovery fields read from a query response.
var (
	queryLocked         = regexp.MustCompile(`(?:^|[\s,])Locked = ([YN])`)
	queryLockingEnabled = regexp.MustCompile(`LockingEnabled = ([YN])`)
	queryMBREnabled     = regexp.MustCompile(`MBREnabled = ([YN])`)
	queryMBRSupported   = regexp.MustCompile(`MBR shadowing Not Supported = ([YN])`)
	queryLockingUsers   = regexp.MustCompile(`Locking Users = ([0-9]+)`)
	queryBlockSID       = regexp.MustCompile(`BlockSID`)
	queryBlockSIDState  = regexp.MustCompile(`BlockSID_BlockSIDState = 0x0*1\b`)
)

func flag(re *regexp.Regexp, output string) bool {
	m := re.FindStringSubmatch(output)
	return m != nil && m[1] == "Y"
}

// ParseQuery extracts the locking fields from query output. Output without a "Locked = " marker comes from a drive
// that is not TCG capable and yields ErrParse.
func ParseQuery(output string) (Query, error) {
	if !queryLocked.MatchString(output) {
		return Query{}, ErrParse
	}

	q := Query{
		TCG:            true,
		Locked:         flag(queryLocked, output),
		LockingEnabled: flag(queryLockingEnabled, output),
		MBREnabled:     flag(queryMBREnabled, output),
		MBRSupported:   queryMBRSupported.FindStringSubmatch(output) != nil && !flag(queryMBRSupported, output),
	}

	if m := queryLockingUsers.FindStringSubmatch(output); m != nil {
		q.LockingUsers, _ = strconv.Atoi(m[1])
	}

	switch {
	case queryBlockSIDState.MatchString(output):
		q.BlockSID = BlockSIDEnabled
	case queryBlockSID.MatchString(output):
		q.BlockSID = BlockSIDDisabled
	default:
		q.BlockSID = BlockSIDNotSupported
	}

	return q, nil
}

var msidPattern = regexp.MustCompile(`MSID:\s*([A-Za-z0-9]+)`)

// ParseMSID extracts the factory credential from printDefaultPassword output.
func ParseMSID(output string) (string, error) {
	m := msidPattern.FindStringSubmatch(output)
	if m == nil {
		return "", ErrParse
	}
	return m[1], nil
}

var pbaVersionPattern = regexp.MustCompile(`PBA image version\s*:\s*(.+)`)

// ParsePBAVersion extracts the image version from pbaValid output.
func ParsePBAVersion(output string) (string, error) {
	m := pbaVersionPattern.FindStringSubmatch(output)
	if m == nil {
		return "", ErrParse
	}
	version := strings.TrimSpace(m[1])
	if version == "" {
		return "", ErrParse
	}
	return version, nil
}
