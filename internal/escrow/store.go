// Package escrow saves drive credential digests to removable volumes so a drive can later be unlocked without
// typing its passphrase.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultDir is the directory holding escrow files at the root of a volume.
	DefaultDir = "FidelityLock"

	fileExt  = ".psw"
	dirPerm  = 0o700
	filePerm = 0o600
)

var (
	// ErrNotFound is returned when no volume holds an entry for the requested device and label.
	ErrNotFound = errors.New("no escrowed credential found")
	// ErrNoVolume is returned when no removable volume is available for writing.
	ErrNoVolume = errors.New("no removable volume available")

	digestPattern = regexp.MustCompile(`^[a-z0-9]{64}$`)
)

// VolumeLister enumerates the mount points of the removable volumes currently attached.
type VolumeLister interface {
	Volumes(ctx context.Context) ([]string, error)
}

// VolumeListerFunc adapts a function to the VolumeLister interface.
type VolumeListerFunc func(ctx context.Context) ([]string, error)

func (f VolumeListerFunc) Volumes(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// StoredRecord is a Record together with where it was read from.
type StoredRecord struct {
	Record
	Path    string
	ModTime time.Time
}

// Store reads and writes escrow files across the attached removable volumes. Concurrent writers to the same file
// are not coordinated: the last writer wins.
type Store struct {
	lister VolumeLister
	dir    string
	target string
	now    func() time.Time

	// lastVolume remembers the volume each file was last read from so writes go back to the same stick.
	lastVolume map[string]string
}

// NewStore creates a Store searching dir on every volume from lister. target, when set, is the preferred volume
// for new files.
func NewStore(lister VolumeLister, dir, target string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{
		lister:     lister,
		dir:        dir,
		target:     target,
		now:        time.Now,
		lastVolume: map[string]string{},
	}
}

// FileName returns the escrow file name for a device.
func FileName(vendor, serial string) string {
	clean := strings.NewReplacer("/", "_", `\`, "_", ":", "_")
	return clean.Replace(vendor) + "_" + clean.Replace(serial) + fileExt
}

func (s *Store) path(volume, name string) string {
	return filepath.Join(volume, s.dir, name)
}

// Read returns the most recent digest saved for label on any attached volume.
func (s *Store) Read(ctx context.Context, vendor, serial, label string) (string, error) {
	volumes, err := s.lister.Volumes(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot list volumes: %w", err)
	}

	name := FileName(vendor, serial)
	var best Entry
	var bestVolume string
	for _, volume := range volumes {
		data, err := os.ReadFile(s.path(volume, name))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logrus.WithField("volume", volume).WithError(err).Warn("Cannot read escrow file")
			}
			continue
		}
		record, err := ParseRecord(data)
		if err != nil {
			logrus.WithField("volume", volume).WithError(err).Warn("Ignoring malformed escrow file")
			continue
		}
		if e, ok := record.Latest(label); ok && e.Timestamp > best.Timestamp {
			best = e
			bestVolume = volume
		}
	}

	if bestVolume == "" {
		return "", fmt.Errorf("%s %s: %w", name, label, ErrNotFound)
	}

	s.lastVolume[name] = bestVolume
	logrus.WithFields(logrus.Fields{
		"volume":    bestVolume,
		"label":     label,
		"timestamp": best.Timestamp,
	}).Debug("Read escrowed credential")

	return best.Digest, nil
}

// Write saves digest for label, replacing any previous entry for that label in the file and keeping the others.
func (s *Store) Write(ctx context.Context, vendor, serial, label, digest string) error {
	if !digestPattern.MatchString(digest) {
		return errors.New("digest must be 64 lowercase hex characters")
	}

	volumes, err := s.lister.Volumes(ctx)
	if err != nil {
		return fmt.Errorf("cannot list volumes: %w", err)
	}

	name := FileName(vendor, serial)
	volume, err := s.writeVolume(name, volumes)
	if err != nil {
		return err
	}
	path := s.path(volume, name)

	record := Record{Vendor: vendor, Serial: serial}
	if data, err := os.ReadFile(path); err == nil {
		existing, perr := ParseRecord(data)
		if perr != nil {
			logrus.WithField("path", path).WithError(perr).Warn("Replacing malformed escrow file")
		} else {
			record.Entries = existing.Entries
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	record.Put(Entry{
		Timestamp: s.now().Format(TimestampLayout),
		Label:     label,
		Digest:    digest,
	})

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("cannot create escrow directory: %w", err)
	}
	if err := writeFileAtomic(path, record.Marshal()); err != nil {
		return err
	}

	s.lastVolume[name] = volume
	logrus.WithFields(logrus.Fields{
		"path":  path,
		"label": label,
	}).Info("Saved credential to escrow")

	return nil
}

// writeVolume picks where a file is written: the volume it was last read from, the configured target, the first
// volume already holding an escrow directory, then the first volume.
func (s *Store) writeVolume(name string, volumes []string) (string, error) {
	if len(volumes) == 0 {
		return "", ErrNoVolume
	}

	attached := func(v string) bool {
		for _, volume := range volumes {
			if volume == v {
				return true
			}
		}
		return false
	}

	if last, ok := s.lastVolume[name]; ok && attached(last) {
		return last, nil
	}
	if s.target != "" && attached(s.target) {
		return s.target, nil
	}
	for _, volume := range volumes {
		if info, err := os.Stat(filepath.Join(volume, s.dir)); err == nil && info.IsDir() {
			return volume, nil
		}
	}

	return volumes[0], nil
}

// writeFileAtomic replaces path with data through a temporary file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".escrow-*")
	if err != nil {
		return fmt.Errorf("cannot create temporary escrow file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write escrow file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot sync escrow file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot close escrow file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return fmt.Errorf("cannot set escrow file mode: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// Remove deletes the device's escrow file from every attached volume and returns how many were removed.
func (s *Store) Remove(ctx context.Context, vendor, serial string) (int, error) {
	volumes, err := s.lister.Volumes(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot list volumes: %w", err)
	}

	name := FileName(vendor, serial)
	removed := 0
	var errs []error
	for _, volume := range volumes {
		path := s.path(volume, name)
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		removed++
		logrus.WithField("path", path).Info("Removed escrow file")
	}
	delete(s.lastVolume, name)

	return removed, errors.Join(errs...)
}

// List returns every escrow record found on the attached volumes.
func (s *Store) List(ctx context.Context) ([]StoredRecord, error) {
	volumes, err := s.lister.Volumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list volumes: %w", err)
	}

	var records []StoredRecord
	for _, volume := range volumes {
		matches, err := filepath.Glob(filepath.Join(volume, s.dir, "*"+fileExt))
		if err != nil {
			return nil, err
		}
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				logrus.WithField("path", path).WithError(err).Warn("Cannot read escrow file")
				continue
			}
			record, err := ParseRecord(data)
			if err != nil {
				logrus.WithField("path", path).WithError(err).Warn("Ignoring malformed escrow file")
				continue
			}
			stored := StoredRecord{Record: record, Path: path}
			if info, err := os.Stat(path); err == nil {
				stored.ModTime = info.ModTime()
			}
			records = append(records, stored)
		}
	}

	return records, nil
}
