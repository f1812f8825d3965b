package lifecycle

import (
	"context"
	"fmt"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// InitialSetup takes ownership of an unconfigured drive, sets every credential to the digest of passphrase and
// enables the locking range. The drive stays unlocked. When save is set the digest is escrowed for Admin1.
func (m *Machine) InitialSetup(ctx context.Context, t Target, passphrase string, save bool) (Result, error) {
	d := t.Device
	log, err := begin(OpInitialSetup, d)
	if err != nil {
		return Result{}, err
	}
	if !d.MSIDKnown() {
		return Result{}, fmt.Errorf("setup %s: %w", d.Handle, ErrMSIDUnknown)
	}

	digest := m.hash(d, passphrase)
	log.Info("Setting up drive")

	if err := m.claim(ctx, d, digest); err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("setup %s: %w", d.Handle, err)
	}

	u := device.NewUpdate(t.Index, d).
		SetSetup(true).
		SetLockingEnabled(true).
		SetLocked(false).
		SetTransientUnlock(false)
	res := finish(u, fmt.Sprintf("Drive %s set up successfully.", d.Handle))
	log.Info("Drive set up")

	if save {
		return res, m.save(ctx, d, sedutil.Admin1, digest)
	}
	return res, nil
}

// claim sets the owner credentials according to the drive's current sub-state and enables the locking range.
func (m *Machine) claim(ctx context.Context, d device.Device, digest string) error {
	out, err := m.Invoker.Capture(ctx, sedutil.Query(d.Handle))
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	q, err := device.ParseQuery(out)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	switch {
	case !q.LockingEnabled:
		if err := m.Invoker.Check(ctx, sedutil.InitialSetup(digest, d.Handle)); err != nil {
			return err
		}
		m.audit(ctx, d, digest, sedutil.Admin1, EventLogInitialized, EventSIDPasswordSet, EventAdminPasswordSet)
	case !q.MBREnabled:
		if err := m.run(ctx,
			sedutil.SetSIDPassword(d.MSID, digest, d.Handle),
			sedutil.SetAdmin1Password(d.MSID, digest, d.Handle),
		); err != nil {
			return err
		}
		m.audit(ctx, d, digest, sedutil.Admin1, EventSIDPasswordSet, EventAdminPasswordSet)
	default:
		return fmt.Errorf("drive reports locking and MBR shadowing enabled: %w", ErrIllegalTransition)
	}

	return m.Invoker.Check(ctx, sedutil.EnableLockingRange(m.lockingRange(), digest, d.Handle))
}

// ChangePassword replaces the credential of an authority. For Admin1 both the SID and Admin1 credentials are
// changed. A failed authorization leaves the drive and the escrow store untouched.
func (m *Machine) ChangePassword(ctx context.Context, t Target, old Credential, newPassphrase string, as sedutil.Authority, save bool) (Result, error) {
	d := t.Device
	log, err := begin(OpChangePassword, d)
	if err != nil {
		return Result{}, err
	}

	oldDigest, err := m.digest(ctx, d, old, as)
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, err
	}
	newDigest := m.hash(d, newPassphrase)
	log.WithField("authority", as).Info("Changing password")

	if as.IsUser() {
		err = m.Invoker.Check(ctx, sedutil.SetUserPassword(as, oldDigest, as, newDigest, d.Handle))
	} else {
		err = m.run(ctx,
			sedutil.SetSIDPassword(oldDigest, newDigest, d.Handle),
			sedutil.SetAdmin1Password(oldDigest, newDigest, d.Handle),
		)
	}
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("change %s password on %s: %w", as, d.Handle, err)
	}

	u := device.NewUpdate(t.Index, d)
	if as.IsUser() {
		m.audit(ctx, d, newDigest, as, EventUserAuth, EventUserPasswordSet)
	} else {
		m.refreshPBAVersion(ctx, d, newDigest, u)
		m.audit(ctx, d, newDigest, sedutil.Admin1, EventAdminAuth, EventSIDPasswordSet, EventAdminPasswordSet)
	}
	res := finish(u, fmt.Sprintf("Password changed on drive %s.", d.Handle))

	if save {
		return res, m.save(ctx, d, as, newDigest)
	}
	return res, nil
}

// SetupUser enables User1 with read access to the locking range and sets its credential. User1 is the
// authority used for PBA unlocks.
func (m *Machine) SetupUser(ctx context.Context, t Target, admin Credential, userPassphrase string, save bool) (Result, error) {
	d := t.Device
	log, err := begin(OpSetupUser, d)
	if err != nil {
		return Result{}, err
	}

	adminDigest, err := m.digest(ctx, d, admin, sedutil.Admin1)
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, err
	}
	userDigest := m.hash(d, userPassphrase)
	log.Info("Setting up User1")

	if err := m.run(ctx,
		sedutil.EnableUser(true, adminDigest, sedutil.User1, d.Handle),
		sedutil.EnableUserRead(true, adminDigest, sedutil.User1, d.Handle),
		sedutil.SetUserPassword(sedutil.Admin1, adminDigest, sedutil.User1, userDigest, d.Handle),
	); err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("set up User1 on %s: %w", d.Handle, err)
	}

	m.audit(ctx, d, adminDigest, sedutil.Admin1, EventAdminAuth, EventUserPasswordSet)
	res := finish(nil, fmt.Sprintf("User1 set up on drive %s.", d.Handle))

	if save {
		return res, m.save(ctx, d, sedutil.User1, userDigest)
	}
	return res, nil
}
