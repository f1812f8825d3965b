package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/sedutil"
)

var pbaVersionNumber = regexp.MustCompile(`[0-9]+(?:\.[0-9]+){0,2}`)

// PBAImageWrite loads the preboot authentication image into the shadow MBR, enables shadowing and reads the image
// version back. A drive whose image cannot be validated keeps its registry record.
func (m *Machine) PBAImageWrite(ctx context.Context, t Target, c Credential, save bool) (Result, error) {
	d := t.Device
	log, err := begin(OpPBAWrite, d)
	if err != nil {
		return Result{}, err
	}

	digest, err := m.digest(ctx, d, c, sedutil.Admin1)
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, err
	}
	log.Info("Writing PBA image")

	if err := m.Invoker.Check(ctx, sedutil.LoadPBAImage(digest, d.Handle)); err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("write PBA image to %s: %w", d.Handle, err)
	}

	if err := m.run(ctx,
		sedutil.SetMBREnable(true, digest, d.Handle),
		sedutil.SetMBRDone(sedutil.Admin1, true, digest, d.Handle),
	); err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("enable shadow MBR on %s: %w", d.Handle, err)
	}

	version, err := m.validatePBA(ctx, d, digest)
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("%s: %w", d.Handle, err)
	}
	log.WithField("version", version).Info("PBA image written")

	m.audit(ctx, d, digest, sedutil.Admin1, EventAdminAuth)
	u := device.NewUpdate(t.Index, d).
		SetMBREnabled(true).
		SetPBAVersion(version)
	res := finish(u, fmt.Sprintf("PBA image version %s written to drive %s.", version, d.Handle))

	if save && !c.FromEscrow {
		return res, m.save(ctx, d, sedutil.Admin1, digest)
	}
	return res, nil
}

// CreatePBAUSB writes a bootable PBA image for the drive onto the removable drive usb. The drive itself is not
// written, so its registry record is unchanged.
func (m *Machine) CreatePBAUSB(ctx context.Context, t Target, usb string) (Result, error) {
	d := t.Device
	log, err := begin(OpPBAUSB, d)
	if err != nil {
		return Result{}, err
	}
	if usb == "" || usb == d.Handle {
		return Result{}, fmt.Errorf("%w: %q for drive %s", ErrUSBTarget, usb, d.Handle)
	}

	log = log.WithField("usb", usb)
	log.Info("Writing PBA USB stick")
	if err := m.Invoker.Check(ctx, sedutil.CreateUSB(d.Handle, usb)); err != nil {
		return Result{}, fmt.Errorf("write PBA USB stick %s for %s: %w", usb, d.Handle, err)
	}
	log.Info("PBA USB stick written")

	return Result{Message: fmt.Sprintf("PBA USB stick %s set up for drive %s.", usb, d.Handle)}, nil
}

// validatePBA reads the written image version and checks it against the configured constraint.
func (m *Machine) validatePBA(ctx context.Context, d device.Device, digest string) (string, error) {
	out, err := m.Invoker.Capture(ctx, sedutil.PBAValid(digest, d.Handle))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPBAValidation, err)
	}
	version, err := device.ParsePBAVersion(out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPBAValidation, err)
	}
	if m.PBAConstraint == nil {
		return version, nil
	}

	v, err := semver.NewVersion(pbaVersionNumber.FindString(version))
	if err != nil {
		return "", fmt.Errorf("%w: version %q: %v", ErrPBAValidation, version, err)
	}
	if ok, errs := m.PBAConstraint.Validate(v); !ok {
		return "", fmt.Errorf("%w: %v", ErrPBAValidation, errors.Join(errs...))
	}
	return version, nil
}

// ReadAudit reads and parses the drive's audit log as Admin1 or User1, newest entries first.
func (m *Machine) ReadAudit(ctx context.Context, t Target, c Credential, as sedutil.Authority) (Result, error) {
	d := t.Device
	log, err := begin(OpReadAudit, d)
	if err != nil {
		return Result{}, err
	}

	digest, err := m.digest(ctx, d, c, as)
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, err
	}

	out, err := m.Invoker.Capture(ctx, sedutil.AuditRead(digest, as, d.Handle))
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("read audit log of %s: %w", d.Handle, err)
	}
	entries, err := ParseAuditLog(out)
	if err != nil {
		m.auditFailure(ctx, d, EventAuthFailed)
		return Result{}, fmt.Errorf("read audit log of %s: %w", d.Handle, err)
	}

	event := EventAdminAuth
	if as.IsUser() {
		event = EventUserAuth
	}
	m.audit(ctx, d, digest, as, event)
	log.WithField("entries", len(entries)).Info("Read audit log")

	return Result{
		Message: fmt.Sprintf("Read %d audit entries from drive %s.", len(entries), d.Handle),
		Audit:   entries,
	}, nil
}
