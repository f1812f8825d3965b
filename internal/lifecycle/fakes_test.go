package lifecycle

import (
	"context"
	"io/ioutil"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/escrow"
	"github.com/sedlock/sedlock/internal/sedutil"
)

func init() {
	logrus.SetOutput(ioutil.Discard)
}

// testHasher is a cheap deterministic Hasher.
type testHasher struct{}

func (testHasher) Hash(password, salt, msid string) string {
	return password + "|" + salt + "|" + msid
}

// scriptedInvoker records every command and answers by verb.
type scriptedInvoker struct {
	calls  []sedutil.Command
	output map[string]string
	fail   map[string]error
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{output: map[string]string{}, fail: map[string]error{}}
}

func (s *scriptedInvoker) Check(_ context.Context, c sedutil.Command) error {
	s.calls = append(s.calls, c)
	return s.fail[c.Verb]
}

func (s *scriptedInvoker) Capture(_ context.Context, c sedutil.Command) (string, error) {
	s.calls = append(s.calls, c)
	return s.output[c.Verb], s.fail[c.Verb]
}

// verbs lists the non audit verbs issued, in order.
func (s *scriptedInvoker) verbs() []string {
	var out []string
	for _, c := range s.calls {
		if c.Verb != "auditwrite" {
			out = append(out, c.Verb)
		}
	}
	return out
}

// audits lists the audit writes issued as "<code> <authority>".
func (s *scriptedInvoker) audits() []string {
	var out []string
	for _, c := range s.calls {
		if c.Verb == "auditwrite" {
			out = append(out, c.Args[0][:2]+" "+c.Args[2])
		}
	}
	return out
}

// find returns the first command with verb.
func (s *scriptedInvoker) find(verb string) (sedutil.Command, bool) {
	for _, c := range s.calls {
		if c.Verb == verb {
			return c, true
		}
	}
	return sedutil.Command{}, false
}

// memoryEscrow is an in-memory Escrow.
type memoryEscrow struct {
	digests  map[string]string
	writeErr error
	writes   int
	removed  int
}

func newMemoryEscrow() *memoryEscrow {
	return &memoryEscrow{digests: map[string]string{}}
}

func escrowKey(vendor, serial, label string) string {
	return vendor + "/" + serial + "/" + label
}

func (e *memoryEscrow) Read(_ context.Context, vendor, serial, label string) (string, error) {
	d, ok := e.digests[escrowKey(vendor, serial, label)]
	if !ok {
		return "", escrow.ErrNotFound
	}
	return d, nil
}

func (e *memoryEscrow) Write(_ context.Context, vendor, serial, label, digest string) error {
	if e.writeErr != nil {
		return e.writeErr
	}
	e.writes++
	e.digests[escrowKey(vendor, serial, label)] = digest
	return nil
}

func (e *memoryEscrow) Remove(_ context.Context, vendor, serial string) (int, error) {
	n := 0
	for _, label := range []string{"Admin1", "User1"} {
		k := escrowKey(vendor, serial, label)
		if _, ok := e.digests[k]; ok {
			delete(e.digests, k)
			n = 1
		}
	}
	e.removed += n
	return n, nil
}

var testTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestMachine() (*Machine, *scriptedInvoker, *memoryEscrow) {
	inv := newScriptedInvoker()
	esc := newMemoryEscrow()
	m := New(inv, testHasher{}, esc)
	m.now = func() time.Time { return testTime }
	return m, inv, esc
}

func testDevice(handle string) device.Device {
	return device.Device{
		Handle:       handle,
		Vendor:       "Samsung SSD 860",
		Serial:       "S3Z9NB0K123456",
		Salt:         "S3Z9NB0K123456",
		MSID:         "MSID0001",
		Opal:         device.Opal2,
		TCG:          true,
		PBAVersion:   device.NotAvailable,
		LockingUsers: 8,
	}
}

func unconfigured(handle string) Target {
	return Target{Index: 0, Device: testDevice(handle)}
}

func configuredUnlocked(handle string) Target {
	d := testDevice(handle)
	d.Setup = true
	d.LockingEnabled = true
	return Target{Index: 1, Device: d}
}

func locked(handle string) Target {
	t := configuredUnlocked(handle)
	t.Device.Locked = true
	t.Device.MBREnabled = true
	return t
}
