package lifecycle

import (
	"bufio"
	_ "embed"
	"errors"
	"strings"
	"unicode"
)

// MinPassphraseLength is the minimum number of non-whitespace characters in a new passphrase.
const MinPassphraseLength = 8

var (
	ErrPassphraseTooShort = errors.New("passphrase must be at least 8 characters long excluding whitespace")
	ErrPassphraseWeak     = errors.New("passphrase is on the list of weak passwords")
	ErrPassphraseMismatch = errors.New("passphrases do not match")
)

//go:embed data/weak-passwords.txt
var weakPasswordList string

var weakPasswords = func() map[string]struct{} {
	set := map[string]struct{}{}
	s := bufio.NewScanner(strings.NewReader(weakPasswordList))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[strings.ToLower(line)] = struct{}{}
	}
	return set
}()

// Normalize removes all whitespace from a passphrase. Passphrases are hashed in normalized form.
func Normalize(passphrase string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, passphrase)
}

// ValidatePassphrase applies the new passphrase policy: long enough, not known weak and confirmed.
func ValidatePassphrase(passphrase, confirmation string) error {
	p := Normalize(passphrase)
	if len([]rune(p)) < MinPassphraseLength {
		return ErrPassphraseTooShort
	}
	if _, weak := weakPasswords[strings.ToLower(p)]; weak {
		return ErrPassphraseWeak
	}
	if p != Normalize(confirmation) {
		return ErrPassphraseMismatch
	}
	return nil
}
