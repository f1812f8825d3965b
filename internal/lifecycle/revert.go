package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// RevertWithPassword returns an owned drive to factory state. With keepData the locking SP is reverted without
// erasing and re-activated with the MSID; otherwise the whole drive is reverted and erased. The drive's escrowed
// credentials are removed.
func (m *Machine) RevertWithPassword(ctx context.Context, t Target, c Credential, keepData bool) (Result, error) {
	d := t.Device
	log, err := begin(OpRevert, d)
	if err != nil {
		return Result{}, err
	}
	if !d.MSIDKnown() {
		return Result{}, fmt.Errorf("revert %s: %w", d.Handle, ErrMSIDUnknown)
	}

	start, failed := EventRevertEraseStart, EventRevertEraseFailed
	if keepData {
		start, failed = EventRevertKeepStart, EventRevertKeepFailed
	}

	digest, err := m.digest(ctx, d, c, sedutil.Admin1)
	if err != nil {
		m.auditFailure(ctx, d, start, failed)
		return Result{}, err
	}
	log.WithField("keep_data", keepData).Warn("Reverting drive")

	var done int
	if keepData {
		err = m.revertKeep(ctx, d, digest)
		done = EventRevertedKeep
	} else {
		err = m.revertErase(ctx, d, digest)
		done = EventRevertedErase
	}
	if err != nil {
		m.auditFailure(ctx, d, start, failed)
		return Result{}, fmt.Errorf("revert %s: %w", d.Handle, err)
	}

	m.forget(ctx, d)
	if keepData {
		m.audit(ctx, d, d.MSID, sedutil.Admin1, done, EventLogInitialized)
	} else {
		m.audit(ctx, d, d.MSID, sedutil.Admin1, done, EventActivated, EventLogInitialized)
	}
	log.Info("Drive reverted")

	return finish(reverted(t), fmt.Sprintf("Drive %s reverted successfully.", d.Handle)), nil
}

func (m *Machine) revertErase(ctx context.Context, d device.Device, digest string) error {
	m.audit(ctx, d, digest, sedutil.Admin1, EventAdminAuth, EventRevertEraseStart)
	if err := m.Invoker.Check(ctx, sedutil.RevertTPer(digest, d.Handle)); err != nil {
		return err
	}
	m.activate(ctx, d)
	if err := m.Invoker.Check(ctx, sedutil.AuditErase(d.MSID, sedutil.Admin1, d.Handle)); err != nil {
		logger(OpRevert, d).WithError(err).Warn("Unable to erase audit log")
	}
	return nil
}

func (m *Machine) revertKeep(ctx context.Context, d device.Device, digest string) error {
	m.audit(ctx, d, digest, sedutil.Admin1, EventRevertKeepStart, EventAdminAuth)
	if err := m.run(ctx,
		sedutil.SetMBRDone(sedutil.Admin1, true, digest, d.Handle),
		sedutil.SetLockingRange(sedutil.Admin1, m.lockingRange(), sedutil.ReadWrite, digest, d.Handle),
		sedutil.RevertNoErase(digest, d.Handle),
	); err != nil {
		return err
	}

	out, err := m.Invoker.Capture(ctx, sedutil.Query(d.Handle))
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	q, err := device.ParseQuery(out)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if q.LockingEnabled {
		return errors.New("locking still enabled after revert")
	}

	if err := m.Invoker.Check(ctx, sedutil.SetSIDPassword(digest, d.MSID, d.Handle)); err != nil {
		logger(OpRevert, d).WithError(err).Warn("Unable to reset SID password")
		return nil
	}
	m.activate(ctx, d)
	return nil
}

// activate re-activates the locking SP of a reverted drive. Failures are logged.
func (m *Machine) activate(ctx context.Context, d device.Device) {
	if err := m.Invoker.Check(ctx, sedutil.Activate(d.MSID, d.Handle)); err != nil {
		logger(OpRevert, d).WithError(err).Warn("Unable to activate locking SP")
	}
}

// RevertWithPSID erases a drive with its printed PSID. It works in any state, including locked. A refusal is
// reported as ErrIncorrectPSID rather than an authorization failure.
func (m *Machine) RevertWithPSID(ctx context.Context, t Target, psid string) (Result, error) {
	d := t.Device
	log, err := begin(OpRevertPSID, d)
	if err != nil {
		return Result{}, err
	}
	log.Warn("Reverting drive with PSID")

	if err := m.Invoker.Check(ctx, sedutil.RevertPSID(psid, d.Handle)); err != nil {
		var invocation *sedutil.InvocationError
		if errors.As(err, &invocation) || ctx.Err() != nil {
			return Result{}, fmt.Errorf("revert %s with PSID: %w", d.Handle, err)
		}
		m.auditFailure(ctx, d, EventRevertPSIDStart, EventRevertPSIDFailed)
		log.WithError(err).Debug("PSID revert refused")
		return Result{}, fmt.Errorf("revert %s with PSID: %w", d.Handle, ErrIncorrectPSID)
	}

	if d.MSIDKnown() {
		m.activate(ctx, d)
		m.audit(ctx, d, d.MSID, sedutil.Admin1, EventRevertPSIDStart, EventRevertedPSID, EventActivated, EventLogInitialized)
	}
	m.forget(ctx, d)
	log.Info("Drive reverted with PSID")

	return finish(reverted(t), fmt.Sprintf("Device %s successfully reverted with PSID.", d.Handle)), nil
}
