package sedutil

import (
	"fmt"
	"strings"
)

// Authority names the drive authority a command acts as.
type Authority string

const (
	// Admin1 is the locking SP administrator authority.
	Admin1 Authority = "Admin1"
	// User1 is the first locking SP user authority, used for reduced-scope (PBA) unlocks.
	User1 Authority = "User1"
)

// IsUser reports whether the authority is one of the locking SP User authorities.
func (a Authority) IsUser() bool {
	return strings.HasPrefix(string(a), "User")
}

// LockState is the read/write attribute applied to a locking range.
type LockState string

const (
	// ReadWrite unlocks the range for reading and writing.
	ReadWrite LockState = "RW"
	// ReadWriteLocked locks the range for reading and writing.
	ReadWriteLocked LockState = "LK"
)

// Command is a single invocation of the external tool. Commands are built with the constructor functions in this
// file so that the verb vocabulary and the flag contract stay in one place.
type Command struct {
	// Verb is the tool verb without its leading dashes (e.g. "query").
	Verb string
	// Args are the positional arguments following the verb.
	Args []string
	// Authenticated commands carry the "-n -t" flags.
	Authenticated bool
	// User commands carry the "-u" flag to act as a locking SP User authority.
	User bool

	// secret holds indices into Args that must never be logged.
	secret []int
}

// Argv returns the tool arguments for the command (without the binary name).
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+4)
	if c.Authenticated {
		argv = append(argv, "-n", "-t")
	}
	if c.User {
		argv = append(argv, "-u")
	}
	argv = append(argv, "--"+c.Verb)

	return append(argv, c.Args...)
}

// String renders the command line with secrets redacted.
func (c Command) String() string {
	argv := c.Argv()
	offset := len(argv) - len(c.Args)
	for _, i := range c.secret {
		argv[offset+i] = "<redacted>"
	}

	return strings.Join(argv, " ")
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Scan lists the drives attached to the system and their Opal capability codes.
func Scan() Command {
	return Command{Verb: "scan"}
}

// Query prints the level 0 discovery information for a drive.
func Query(handle string) Command {
	return Command{Verb: "query", Args: []string{handle}}
}

// PrintDefaultPassword prints the drive's MSID.
func PrintDefaultPassword(handle string) Command {
	return Command{Verb: "printDefaultPassword", Args: []string{handle}}
}

// Version prints the tool version.
func Version() Command {
	return Command{Verb: "version"}
}

// InitialSetup takes ownership of a drive whose locking is disabled and sets every credential to pwd.
func InitialSetup(pwd, handle string) Command {
	return Command{Verb: "initialSetup", Args: []string{pwd, handle}, Authenticated: true, secret: []int{0}}
}

// SetSIDPassword changes the SID credential from oldPwd to newPwd.
func SetSIDPassword(oldPwd, newPwd, handle string) Command {
	return Command{Verb: "setSIDPassword", Args: []string{oldPwd, newPwd, handle}, Authenticated: true, secret: []int{0, 1}}
}

// SetAdmin1Password changes the Admin1 credential from oldPwd to newPwd.
func SetAdmin1Password(oldPwd, newPwd, handle string) Command {
	return Command{Verb: "setAdmin1Pwd", Args: []string{oldPwd, newPwd, handle}, Authenticated: true, secret: []int{0, 1}}
}

// SetUserPassword sets the credential of a User authority, authorized by authPwd. When acting as the user itself
// the command carries the "-u" flag.
func SetUserPassword(as Authority, authPwd string, user Authority, newPwd, handle string) Command {
	return Command{
		Verb:          "setpassword",
		Args:          []string{authPwd, string(user), newPwd, handle},
		Authenticated: true,
		User:          as.IsUser(),
		secret:        []int{0, 2},
	}
}

// EnableUser enables or disables a User authority.
func EnableUser(on bool, adminPwd string, user Authority, handle string) Command {
	return Command{Verb: "enableuser", Args: []string{strings.ToUpper(onOff(on)), adminPwd, string(user), handle}, Authenticated: true, secret: []int{1}}
}

// EnableUserRead grants or revokes read access on the locking range for a User authority.
func EnableUserRead(on bool, adminPwd string, user Authority, handle string) Command {
	return Command{Verb: "enableuserread", Args: []string{strings.ToUpper(onOff(on)), adminPwd, string(user), handle}, Authenticated: true, secret: []int{1}}
}

// EnableLockingRange enables read and write locking on a range.
func EnableLockingRange(lockingRange, pwd, handle string) Command {
	return Command{Verb: "enableLockingRange", Args: []string{lockingRange, pwd, handle}, Authenticated: true, secret: []int{1}}
}

// SetLockingRange sets the lock state of a range.
func SetLockingRange(as Authority, lockingRange string, state LockState, pwd, handle string) Command {
	return Command{
		Verb:          "setLockingRange",
		Args:          []string{lockingRange, string(state), pwd, handle},
		Authenticated: true,
		User:          as.IsUser(),
		secret:        []int{2},
	}
}

// SetMBREnable turns MBR shadowing on or off.
func SetMBREnable(on bool, pwd, handle string) Command {
	return Command{Verb: "setMBREnable", Args: []string{onOff(on), pwd, handle}, Authenticated: true, secret: []int{1}}
}

// SetMBRDone flags the shadow MBR as done (hidden) or not.
func SetMBRDone(as Authority, on bool, pwd, handle string) Command {
	return Command{
		Verb:          "setMBRDone",
		Args:          []string{onOff(on), pwd, handle},
		Authenticated: true,
		User:          as.IsUser(),
		secret:        []int{1},
	}
}

// RevertTPer reverts the drive to factory state, erasing all data.
func RevertTPer(pwd, handle string) Command {
	return Command{Verb: "revertTPer", Args: []string{pwd, handle}, Authenticated: true, secret: []int{0}}
}

// RevertNoErase reverts the locking SP while keeping the data.
func RevertNoErase(pwd, handle string) Command {
	return Command{Verb: "revertnoerase", Args: []string{pwd, handle}, Authenticated: true, secret: []int{0}}
}

// Activate activates the locking SP using the MSID.
func Activate(msid, handle string) Command {
	return Command{Verb: "activate", Args: []string{msid, handle}, Authenticated: true}
}

// RevertPSID erases the drive using its physical security ID.
func RevertPSID(psid, handle string) Command {
	return Command{Verb: "yesIreallywanttoERASEALLmydatausingthePSID", Args: []string{psid, handle}, Authenticated: true, secret: []int{0}}
}

// LoadPBAImage writes the preboot authentication image into the shadow MBR.
func LoadPBAImage(pwd, handle string) Command {
	return Command{Verb: "loadpbaimage", Args: []string{pwd, "n", handle}, Authenticated: true, secret: []int{0}}
}

// PBAValid reads back the version of the preboot authentication image.
func PBAValid(pwd, handle string) Command {
	return Command{Verb: "pbaValid", Args: []string{pwd, handle}, Authenticated: true, secret: []int{0}}
}

// USBFirmware is the boot firmware a PBA USB stick is built for.
const USBFirmware = "UEFI"

// CreateUSB writes a bootable PBA image for the drive at handle onto the removable drive usb.
func CreateUSB(handle, usb string) Command {
	return Command{Verb: "createUSB", Args: []string{USBFirmware, handle, usb}}
}

// AuditRead reads the drive's audit log.
func AuditRead(pwd string, as Authority, handle string) Command {
	return Command{Verb: "auditread", Args: []string{pwd, string(as), handle}, Authenticated: true, User: true, secret: []int{0}}
}

// AuditWrite appends an entry to the drive's audit log. The entry is the two digit event code followed by a
// yyMMddHHmmss timestamp.
func AuditWrite(entry, pwd string, as Authority, handle string) Command {
	return Command{Verb: "auditwrite", Args: []string{entry, pwd, string(as), handle}, Authenticated: true, User: as.IsUser(), secret: []int{1}}
}

// AuditErase clears the drive's audit log.
func AuditErase(pwd string, as Authority, handle string) Command {
	return Command{Verb: "auditerase", Args: []string{pwd, string(as), handle}, Authenticated: true}
}

// AuditEntry formats the auditwrite entry argument for an event code.
func AuditEntry(code int, timestamp string) string {
	return fmt.Sprintf("%02d%s", code, timestamp)
}
