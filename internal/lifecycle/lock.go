package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/escrow"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// UnlockMode selects how much of a locked drive is opened.
type UnlockMode string

const (
	// UnlockFull hides the shadow MBR and unlocks the locking range as Admin1.
	UnlockFull UnlockMode = "full"
	// UnlockPartial unlocks the locking range as Admin1 and leaves the shadow MBR flags alone.
	UnlockPartial UnlockMode = "partial"
	// UnlockPBA unlocks range 0 as User1. The drive relocks at the next power cycle.
	UnlockPBA UnlockMode = "pba"
)

// ParseUnlockMode validates an unlock mode name.
func ParseUnlockMode(s string) (UnlockMode, error) {
	switch m := UnlockMode(s); m {
	case UnlockFull, UnlockPartial, UnlockPBA:
		return m, nil
	case "":
		return UnlockFull, nil
	default:
		return "", fmt.Errorf("unknown unlock mode %q", s)
	}
}

// Authority returns the drive authority the mode acts as.
func (u UnlockMode) Authority() sedutil.Authority {
	if u == UnlockPBA {
		return sedutil.User1
	}
	return sedutil.Admin1
}

// Lock enables locking and the shadow MBR, then locks the range. The boot drive is not range locked; it locks at
// the next power cycle.
func (m *Machine) Lock(ctx context.Context, t Target, c Credential, save bool) (Result, error) {
	d := t.Device
	log, err := begin(OpLock, d)
	if err != nil {
		return Result{}, err
	}

	digest, err := m.digest(ctx, d, c, sedutil.Admin1)
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, err
	}

	rng := m.lockingRange()
	cmds := []sedutil.Command{
		sedutil.EnableLockingRange(rng, digest, d.Handle),
		sedutil.SetMBRDone(sedutil.Admin1, true, digest, d.Handle),
		sedutil.SetMBREnable(true, digest, d.Handle),
	}
	boot := m.isBoot(d.Handle)
	if !boot {
		cmds = append(cmds, sedutil.SetLockingRange(sedutil.Admin1, rng, sedutil.ReadWriteLocked, digest, d.Handle))
	}
	log.WithField("boot", boot).Info("Locking drive")

	if err := m.run(ctx, cmds...); err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("lock %s: %w", d.Handle, err)
	}

	m.audit(ctx, d, digest, sedutil.Admin1, EventAdminAuth)

	u := device.NewUpdate(t.Index, d).
		SetLockingEnabled(true).
		SetMBREnabled(true).
		SetTransientUnlock(false)
	msg := fmt.Sprintf("Locking enabled on drive %s but not locked. Power cycle the drive to lock the drive.", d.Handle)
	if !boot {
		u.SetLocked(true)
		msg = fmt.Sprintf("Drive %s locked successfully.", d.Handle)
	}
	m.refreshPBAVersion(ctx, d, digest, u)
	res := finish(u, msg)

	if save && !c.FromEscrow {
		return res, m.save(ctx, d, sedutil.Admin1, digest)
	}
	return res, nil
}

// Unlock opens a locked drive in the given mode. The credential belongs to the mode's authority.
func (m *Machine) Unlock(ctx context.Context, t Target, c Credential, mode UnlockMode, save bool) (Result, error) {
	d := t.Device
	if _, err := begin(OpUnlock, d); err != nil {
		return Result{}, err
	}

	as := mode.Authority()
	digest, err := m.digest(ctx, d, c, as)
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, err
	}

	res, err := m.unlock(ctx, t, digest, mode)
	if err != nil {
		return res, err
	}
	if save && !c.FromEscrow {
		return res, m.save(ctx, d, as, digest)
	}
	return res, nil
}

// UnlockFromEscrow unlocks a locked drive with its escrowed Admin1 credential, falling back to a PBA unlock with
// the escrowed User1 credential.
func (m *Machine) UnlockFromEscrow(ctx context.Context, t Target) (Result, error) {
	d := t.Device
	if _, err := begin(OpUnlock, d); err != nil {
		return Result{}, err
	}

	mode := UnlockFull
	digest, err := m.digest(ctx, d, Escrowed(), sedutil.Admin1)
	if errors.Is(err, escrow.ErrNotFound) {
		mode = UnlockPBA
		digest, err = m.digest(ctx, d, Escrowed(), sedutil.User1)
	}
	if err != nil {
		return Result{}, err
	}

	return m.unlock(ctx, t, digest, mode)
}

func (m *Machine) unlock(ctx context.Context, t Target, digest string, mode UnlockMode) (Result, error) {
	d := t.Device
	as := mode.Authority()
	log := logger(OpUnlock, d).WithField("mode", mode)
	log.Info("Unlocking drive")

	var cmds []sedutil.Command
	switch mode {
	case UnlockPBA:
		cmds = []sedutil.Command{
			sedutil.SetMBRDone(as, true, digest, d.Handle),
			sedutil.SetLockingRange(as, DefaultLockingRange, sedutil.ReadWrite, digest, d.Handle),
		}
	case UnlockPartial:
		cmds = []sedutil.Command{
			sedutil.SetLockingRange(as, m.lockingRange(), sedutil.ReadWrite, digest, d.Handle),
		}
	default:
		cmds = []sedutil.Command{
			sedutil.SetMBRDone(as, true, digest, d.Handle),
			sedutil.SetLockingRange(as, m.lockingRange(), sedutil.ReadWrite, digest, d.Handle),
		}
	}

	if err := m.run(ctx, cmds...); err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("unlock %s: %w", d.Handle, err)
	}

	u := device.NewUpdate(t.Index, d).
		SetLocked(false).
		SetTransientUnlock(mode == UnlockPBA)
	if as.IsUser() {
		m.audit(ctx, d, digest, as, EventUserAuth)
	} else {
		m.refreshPBAVersion(ctx, d, digest, u)
		m.audit(ctx, d, digest, as, EventAdminAuth)
	}
	log.Info("Drive unlocked")

	return finish(u, fmt.Sprintf("Drive %s unlocked successfully.", d.Handle)), nil
}
