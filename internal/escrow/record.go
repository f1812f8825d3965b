package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/sedlock/sedlock/internal/util"
)

const (
	// TimestampLayout is the fixed width entry timestamp. Fixed width makes lexical order chronological.
	TimestampLayout = "20060102150405"

	headerModel  = "Model Number"
	headerSerial = "Serial Number"
)

// entryPattern matches one timestamped entry: "Timestamp: <14 digits>" followed by "<Label>: <64 hex>".
var entryPattern = regexp.MustCompile(`Timestamp: ([0-9]{14})\r?\n([A-Za-z0-9]+): ([a-z0-9]{64})`)

// Entry is one saved credential digest.
type Entry struct {
	Timestamp string
	Label     string
	Digest    string
}

// Record is the content of one escrow file.
type Record struct {
	Vendor  string
	Serial  string
	Entries []Entry
}

// ParseRecord decodes an escrow file. Unrecognized lines are ignored.
func ParseRecord(data []byte) (Record, error) {
	header := util.ExtractKeyValues(data, ": ", []string{headerModel, headerSerial})
	r := Record{
		Vendor: header[headerModel],
		Serial: header[headerSerial],
	}

	for _, m := range entryPattern.FindAllSubmatch(data, -1) {
		r.Entries = append(r.Entries, Entry{
			Timestamp: string(m[1]),
			Label:     string(m[2]),
			Digest:    string(m[3]),
		})
	}

	if r.Vendor == "" && r.Serial == "" && len(r.Entries) == 0 {
		return Record{}, errors.New("not an escrow record")
	}

	return r, nil
}

// Latest returns the entry with the greatest timestamp for label.
func (r Record) Latest(label string) (Entry, bool) {
	var latest Entry
	found := false
	for _, e := range r.Entries {
		if e.Label != label {
			continue
		}
		if !found || e.Timestamp > latest.Timestamp {
			latest = e
			found = true
		}
	}
	return latest, found
}

// Labels lists the distinct labels held by the record in sorted order.
func (r Record) Labels() []string {
	seen := map[string]bool{}
	var labels []string
	for _, e := range r.Entries {
		if !seen[e.Label] {
			seen[e.Label] = true
			labels = append(labels, e.Label)
		}
	}
	sort.Strings(labels)
	return labels
}

// Put replaces every entry for e.Label with e, keeping the entries of other labels in order.
func (r *Record) Put(e Entry) {
	kept := r.Entries[:0:0]
	for _, old := range r.Entries {
		if old.Label != e.Label {
			kept = append(kept, old)
		}
	}
	r.Entries = append(kept, e)
}

// Marshal encodes the record in the escrow file format.
func (r Record) Marshal() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: %s\n%s: %s\n", headerModel, r.Vendor, headerSerial, r.Serial)
	for _, e := range r.Entries {
		fmt.Fprintf(&buf, "\nTimestamp: %s\n%s: %s\n", e.Timestamp, e.Label, e.Digest)
	}
	return buf.Bytes()
}
