package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/sedlock/sedlock/internal/hasher"
	"github.com/sedlock/sedlock/internal/sedutil"
	"github.com/sedlock/sedlock/internal/system"
)

// auditLogMarker is present in audit log output once the drive's audit log has been initialized at setup.
const auditLogMarker = "Fidelity Audit Log"

// Scanner discovers the drives attached to the host.
type Scanner struct {
	Invoker sedutil.Invoker
	Hasher  hasher.Hasher
	Family  system.Family
}

// Scan lists the attached drives, queries each one and classifies it. Values the new scan cannot resolve are
// carried over from previous, which may be nil. When the tool cannot be run an empty registry is returned along
// with the error.
func (s *Scanner) Scan(ctx context.Context, previous *RegistryState) (*RegistryState, error) {
	logrus.Info("Scanning for drives...")
	out, err := s.Invoker.Capture(ctx, sedutil.Scan())
	if err != nil {
		return NewRegistryState(nil), fmt.Errorf("scan drives: %w", err)
	}

	devices, err := ParseScan(s.Family, out)
	if err != nil {
		return NewRegistryState(nil), err
	}

	for i := range devices {
		if err := ctx.Err(); err != nil {
			return NewRegistryState(nil), err
		}
		s.inspect(ctx, &devices[i])
	}

	registry := NewRegistryState(devices)
	registry.merge(previous)

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.Debug(spew.Sdump(registry.Devices()))
	}
	logrus.WithFields(logrus.Fields{
		"devices":  registry.Len(),
		"tcg":      len(registry.Indices(AllTCG)),
		"locked":   len(registry.Indices(Locked)),
		"unlocked": len(registry.Indices(Unlocked)),
	}).Info("Scan complete")

	return registry, nil
}

// inspect fills in the locking fields of d from its query, default password and audit log. Failures leave the
// device as not TCG capable or not set up.
func (s *Scanner) inspect(ctx context.Context, d *Device) {
	log := logrus.WithField("device", d.Handle)

	out, err := s.Invoker.Capture(ctx, sedutil.Query(d.Handle))
	if err != nil {
		log.WithError(err).Warn("Query failed")
	}
	q, err := ParseQuery(out)
	if err != nil {
		log.Debug("No locking information, drive is not TCG capable")
		return
	}

	d.TCG = true
	d.Locked = q.Locked
	d.LockingEnabled = q.LockingEnabled
	d.MBREnabled = q.MBREnabled
	d.LockingUsers = q.LockingUsers
	d.BlockSID = q.BlockSID
	d.PBAVersion = NotSupported
	if q.MBRSupported {
		d.PBAVersion = NotAvailable
	}

	msidOut, err := s.Invoker.Capture(ctx, sedutil.PrintDefaultPassword(d.Handle))
	if msid, perr := ParseMSID(msidOut); perr == nil {
		d.MSID = msid
	} else if err != nil {
		log.WithError(err).Warn("Reading default password failed")
	}

	switch {
	case q.Locked:
		d.Setup = true
	case q.LockingEnabled:
		d.Setup = s.auditLogReadable(ctx, *d)
	}
}

// auditLogReadable reports whether the drive's audit log can be read with its recovery credential, which is only
// the case once the drive has been set up.
func (s *Scanner) auditLogReadable(ctx context.Context, d Device) bool {
	digest := hasher.RecoveryDigest(s.Hasher, d.Salt, d.MSID)
	out, err := s.Invoker.Capture(ctx, sedutil.AuditRead(digest, sedutil.Authority(d.UserAuthority()), d.Handle))
	if err != nil {
		logrus.WithField("device", d.Handle).WithError(err).Debug("Audit log read failed")
		return false
	}
	return strings.Contains(out, auditLogMarker)
}
