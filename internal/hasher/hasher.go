// Package hasher derives drive credentials from user passphrases.
package hasher

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 iteration count used when none is configured.
	DefaultIterations = 500000

	// saltWidth is the minimum width, in characters, of the device salt before hashing.
	saltWidth = 20

	// keyLength is the derived key size in bytes. Digests are hex encoded to twice this length.
	keyLength = 32

	// recoverySeed is prefixed to the device salt to derive the fixed recovery credential.
	recoverySeed = "F0iD2eli81Ty"
)

// DigestLength is the length of every digest returned by a Hasher.
const DigestLength = keyLength * 2

// Hasher turns a passphrase into the digest used as the drive credential. Implementations must be deterministic.
type Hasher interface {
	// Hash derives the hex encoded digest for password using the device salt and MSID.
	Hash(password, salt, msid string) string
}

// PBKDF2 is the default Hasher. The PBKDF2 salt is the device salt padded to 20 characters followed by the MSID.
type PBKDF2 struct {
	// Iterations overrides DefaultIterations when positive.
	Iterations int
}

// Type assertion to ensure PBKDF2 implements the Hasher interface.
var _ Hasher = (*PBKDF2)(nil)

// Hash derives a SHA-512 PBKDF2 key for password and returns it hex encoded.
func (p PBKDF2) Hash(password, salt, msid string) string {
	iterations := p.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	key := pbkdf2.Key([]byte(password), []byte(PadSalt(salt)+msid), iterations, keyLength, sha512.New)

	return hex.EncodeToString(key)
}

// PadSalt pads salt with trailing spaces to 20 characters. Longer values are returned unchanged.
func PadSalt(salt string) string {
	n := utf8.RuneCountInString(salt)
	if n >= saltWidth {
		return salt
	}
	return salt + strings.Repeat(" ", saltWidth-n)
}

// RecoveryDigest returns the fixed credential used to record failed attempts in the drive audit log. The seed is
// followed by the padded salt.
func RecoveryDigest(h Hasher, salt, msid string) string {
	return h.Hash(recoverySeed+PadSalt(salt), salt, msid)
}
