package lifecycle

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Audit event codes written to the drive's audit log.
const (
	EventLogInitialized    = 1
	EventAdminAuth         = 2
	EventUserAuth          = 3
	EventRevertedKeep      = 4
	EventRevertedErase     = 5
	EventRevertedPSID      = 6
	EventActivated         = 8
	EventAuthFailed        = 9
	EventSIDPasswordSet    = 10
	EventAdminPasswordSet  = 11
	EventUserPasswordSet   = 12
	EventRevertKeepStart   = 13
	EventRevertKeepFailed  = 14
	EventRevertEraseStart  = 15
	EventRevertEraseFailed = 16
	EventRevertPSIDStart   = 17
	EventRevertPSIDFailed  = 18
)

// auditTimestampLayout is the yyMMddHHmmss stamp appended to the event code in an audit write.
const auditTimestampLayout = "060102150405"

// auditDateLayout is the date format of entries printed by the audit read.
const auditDateLayout = "1/2/2006 15:04:05"

// ErrNoAuditLog is returned when the drive reports no readable audit log.
var ErrNoAuditLog = errors.New("no audit log")

// Severity classifies audit events for filtering.
type Severity uint8

const (
	Information Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	default:
		return "Information"
	}
}

// MarshalText encodes the severity name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var eventDescriptions = map[int]string{
	EventLogInitialized:    "Audit log initialized",
	EventAdminAuth:         "Admin1 authenticated",
	EventUserAuth:          "User1 authenticated",
	EventRevertedKeep:      "Drive reverted, data kept",
	EventRevertedErase:     "Drive reverted and erased",
	EventRevertedPSID:      "Drive reverted with PSID",
	EventActivated:         "Locking SP activated with MSID",
	EventAuthFailed:        "Authentication failed",
	EventSIDPasswordSet:    "SID password set",
	EventAdminPasswordSet:  "Admin1 password set",
	EventUserPasswordSet:   "User1 password set",
	EventRevertKeepStart:   "Revert (keep data) requested",
	EventRevertKeepFailed:  "Revert (keep data) failed",
	EventRevertEraseStart:  "Revert and erase requested",
	EventRevertEraseFailed: "Revert and erase failed",
	EventRevertPSIDStart:   "PSID revert requested",
	EventRevertPSIDFailed:  "PSID revert failed",
}

// EventDescription returns the description of an event code.
func EventDescription(code int) string {
	if d, ok := eventDescriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("Unknown event %02d", code)
}

// SeverityOf classifies an event code.
func SeverityOf(code int) Severity {
	switch code {
	case EventAuthFailed, EventRevertKeepFailed, EventRevertEraseFailed, EventRevertPSIDFailed:
		return Error
	case EventRevertKeepStart, EventRevertEraseStart, EventRevertPSIDStart:
		return Warning
	default:
		return Information
	}
}

// AuditEntry is one parsed audit log record.
type AuditEntry struct {
	Time        time.Time `json:"time"`
	Code        int       `json:"code"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
}

const noAuditEntries = "Invalid Audit Signature or No Audit Entry log"

var (
	auditHeader = regexp.MustCompile(`Total Number of Audit Entries\s*:\s*([0-9]+)\n((?:.+\n?)+)`)
	auditLine   = regexp.MustCompile(`([0-9]+/[0-9]+/[0-9]+\s+[0-9]+:[0-9]+:[0-9]+)\s+([0-9]+)`)
	spaces      = regexp.MustCompile(`\s+`)
)

// ParseAuditLog parses audit read output, newest entries first.
func ParseAuditLog(output string) ([]AuditEntry, error) {
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == noAuditEntries {
			return nil, ErrNoAuditLog
		}
	}

	m := auditHeader.FindStringSubmatch(output)
	if m == nil {
		return nil, ErrNoAuditLog
	}

	var entries []AuditEntry
	for _, em := range auditLine.FindAllStringSubmatch(m[2], -1) {
		ts, err := time.Parse(auditDateLayout, spaces.ReplaceAllString(em[1], " "))
		if err != nil {
			continue
		}
		code, err := strconv.Atoi(em[2])
		if err != nil {
			continue
		}
		entries = append(entries, AuditEntry{
			Time:        ts,
			Code:        code,
			Description: EventDescription(code),
			Severity:    SeverityOf(code),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.After(entries[j].Time)
	})

	return entries, nil
}

// Filter selects audit entries by severity.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterWarnings Filter = "warnings"
	FilterErrors   Filter = "errors"
)

// ParseFilter validates a filter name.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(s)); f {
	case FilterAll, FilterWarnings, FilterErrors:
		return f, nil
	case "":
		return FilterAll, nil
	default:
		return "", fmt.Errorf("unknown audit filter %q", s)
	}
}

// Apply returns the entries matching the filter. Warnings includes errors.
func (f Filter) Apply(entries []AuditEntry) []AuditEntry {
	var floor Severity
	switch f {
	case FilterWarnings:
		floor = Warning
	case FilterErrors:
		floor = Error
	default:
		return entries
	}

	var out []AuditEntry
	for _, e := range entries {
		if e.Severity >= floor {
			out = append(out, e)
		}
	}
	return out
}
