// Package lifecycle drives self-encrypting drives through setup, locking, unlocking and revert.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver"
	"github.com/sirupsen/logrus"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/hasher"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// DefaultLockingRange is the locking range managed when none is configured.
const DefaultLockingRange = "0"

// DefaultBootHandles are the drives treated as the boot drive. They are never range locked while running.
var DefaultBootHandles = []string{`\\.\PhysicalDrive0`, "/dev/sda", "/dev/nvme0"}

var (
	// ErrIncorrectPSID is returned when a PSID revert is refused by the drive.
	ErrIncorrectPSID = errors.New("incorrect PSID")
	// ErrPBAValidation is returned when the written PBA image cannot be read back or is not acceptable.
	ErrPBAValidation = errors.New("PBA image validation failed")
	// ErrNoEscrow is returned when a credential is requested from escrow but no store is configured.
	ErrNoEscrow = errors.New("no escrow store configured")
	// ErrMSIDUnknown is returned when an operation needs the drive's MSID and it could not be read.
	ErrMSIDUnknown = errors.New("MSID unknown")
	// ErrUSBTarget is returned when a PBA USB stick is requested without a usable removable drive.
	ErrUSBTarget = errors.New("invalid PBA USB target")
)

// EscrowWriteError reports that the drive operation succeeded but its credential could not be escrowed.
type EscrowWriteError struct {
	Handle string
	Err    error
}

func (e *EscrowWriteError) Error() string {
	return fmt.Sprintf("%s: saving credential to escrow: %v", e.Handle, e.Err)
}

func (e *EscrowWriteError) Unwrap() error {
	return e.Err
}

// Escrow persists credential digests outside the drive.
type Escrow interface {
	Read(ctx context.Context, vendor, serial, label string) (string, error)
	Write(ctx context.Context, vendor, serial, label, digest string) error
	Remove(ctx context.Context, vendor, serial string) (int, error)
}

// Credential is the authorization for an operation: either a passphrase to hash or the latest escrowed digest.
type Credential struct {
	Passphrase string
	FromEscrow bool
}

// Passphrase returns a credential hashed from p.
func Passphrase(p string) Credential {
	return Credential{Passphrase: p}
}

// Escrowed returns a credential read from the escrow store.
func Escrowed() Credential {
	return Credential{FromEscrow: true}
}

// Target is a registry device addressed by its index. Operations work on this snapshot and never read the
// registry.
type Target struct {
	Index  int
	Device device.Device
}

// Result is the outcome of one operation on one drive. Update is nil when the registry record does not change.
type Result struct {
	Update  *device.Update
	Message string
	Audit   []AuditEntry
}

// Machine issues the tool command sequences for each lifecycle transition.
type Machine struct {
	Invoker sedutil.Invoker
	Hasher  hasher.Hasher
	// Escrow may be nil when no removable volume is used.
	Escrow Escrow

	LockingRange string
	BootHandles  []string
	// PBAConstraint, when set, must be satisfied by the version of a written PBA image.
	PBAConstraint *semver.Constraints
	// RawPassphrases hashes passphrases exactly as typed instead of in normalized form.
	RawPassphrases bool

	now func() time.Time
}

// New returns a Machine with the default locking range and boot drives.
func New(inv sedutil.Invoker, h hasher.Hasher, esc Escrow) *Machine {
	return &Machine{
		Invoker:      inv,
		Hasher:       h,
		Escrow:       esc,
		LockingRange: DefaultLockingRange,
		BootHandles:  DefaultBootHandles,
		now:          time.Now,
	}
}

func (m *Machine) lockingRange() string {
	if m.LockingRange == "" {
		return DefaultLockingRange
	}
	return m.LockingRange
}

func (m *Machine) timestamp() string {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	return now().Format(auditTimestampLayout)
}

func (m *Machine) isBoot(handle string) bool {
	for _, h := range m.BootHandles {
		if h == handle {
			return true
		}
	}
	return false
}

func logger(op Operation, d device.Device) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"operation": op, "device": d.Handle})
}

// hash derives the digest of a passphrase for d.
func (m *Machine) hash(d device.Device, passphrase string) string {
	if !m.RawPassphrases {
		passphrase = Normalize(passphrase)
	}
	return m.Hasher.Hash(passphrase, d.Salt, d.MSID)
}

// digest resolves a credential for d. Escrowed credentials are read for label.
func (m *Machine) digest(ctx context.Context, d device.Device, c Credential, label sedutil.Authority) (string, error) {
	if !c.FromEscrow {
		return m.hash(d, c.Passphrase), nil
	}
	if m.Escrow == nil {
		return "", ErrNoEscrow
	}
	digest, err := m.Escrow.Read(ctx, d.Vendor, d.Serial, string(label))
	if err != nil {
		return "", fmt.Errorf("reading %s credential for %s from escrow: %w", label, d.Handle, err)
	}
	return digest, nil
}

// run checks each command in order, stopping at the first failure.
func (m *Machine) run(ctx context.Context, cmds ...sedutil.Command) error {
	for _, c := range cmds {
		if err := m.Invoker.Check(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// audit writes event codes to the drive's audit log. Failures are logged and otherwise ignored.
func (m *Machine) audit(ctx context.Context, d device.Device, pwd string, as sedutil.Authority, codes ...int) {
	ts := m.timestamp()
	for _, code := range codes {
		entry := sedutil.AuditEntry(code, ts)
		if err := m.Invoker.Check(ctx, sedutil.AuditWrite(entry, pwd, as, d.Handle)); err != nil {
			logrus.WithFields(logrus.Fields{
				"device": d.Handle,
				"event":  fmt.Sprintf("%02d", code),
			}).WithError(err).Warn("Audit write failed")
		}
	}
}

// auditFailure records failure events with the drive's recovery credential.
func (m *Machine) auditFailure(ctx context.Context, d device.Device, codes ...int) {
	user := d.UserAuthority()
	if user == "" || !d.MSIDKnown() {
		return
	}
	m.audit(ctx, d, hasher.RecoveryDigest(m.Hasher, d.Salt, d.MSID), sedutil.Authority(user), codes...)
}

// save escrows digest for d, returning an EscrowWriteError on failure.
func (m *Machine) save(ctx context.Context, d device.Device, label sedutil.Authority, digest string) error {
	if m.Escrow == nil {
		return &EscrowWriteError{Handle: d.Handle, Err: ErrNoEscrow}
	}
	if err := m.Escrow.Write(ctx, d.Vendor, d.Serial, string(label), digest); err != nil {
		return &EscrowWriteError{Handle: d.Handle, Err: err}
	}
	return nil
}

// forget removes the escrowed credentials of d. Failures are logged.
func (m *Machine) forget(ctx context.Context, d device.Device) {
	if m.Escrow == nil {
		return
	}
	n, err := m.Escrow.Remove(ctx, d.Vendor, d.Serial)
	log := logrus.WithField("device", d.Handle)
	if err != nil {
		log.WithError(err).Warn("Unable to remove escrowed credential")
		return
	}
	if n > 0 {
		log.WithField("files", n).Info("Removed escrowed credential")
	}
}

// refreshPBAVersion reads the PBA image version when it is not yet known and records it in u.
func (m *Machine) refreshPBAVersion(ctx context.Context, d device.Device, digest string, u *device.Update) {
	if d.PBAVersion != device.NotAvailable {
		return
	}
	out, err := m.Invoker.Capture(ctx, sedutil.PBAValid(digest, d.Handle))
	if err != nil {
		logger(OpPBAWrite, d).WithError(err).Debug("Unable to read PBA version")
		return
	}
	if v, err := device.ParsePBAVersion(out); err == nil {
		u.SetPBAVersion(v)
	}
}

// finish drops an update that carries no fields.
func finish(u *device.Update, msg string) Result {
	if u != nil && u.Fields == 0 {
		u = nil
	}
	return Result{Update: u, Message: msg}
}

// reverted marks d as returned to factory state.
func reverted(t Target) *device.Update {
	return device.NewUpdate(t.Index, t.Device).
		SetLocked(false).
		SetLockingEnabled(false).
		SetMBREnabled(false).
		SetSetup(false).
		SetTransientUnlock(false).
		SetPBAVersion(device.NotAvailable)
}

func begin(op Operation, d device.Device) (*logrus.Entry, error) {
	from, err := check(op, d)
	log := logger(op, d)
	if err != nil {
		return log, err
	}
	log.WithFields(logrus.Fields{"from": from, "via": Intermediate(op, from)}).Debug("Starting transition")
	return log, nil
}
