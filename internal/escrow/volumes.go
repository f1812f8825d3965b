package escrow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sedlock/sedlock/internal/diskutil"
	"github.com/sedlock/sedlock/internal/system"
)

// StaticVolumes lists a fixed set of volumes, skipping the ones that are not currently present.
type StaticVolumes []string

func (v StaticVolumes) Volumes(ctx context.Context) ([]string, error) {
	var present []string
	for _, volume := range v {
		if info, err := os.Stat(volume); err == nil && info.IsDir() {
			present = append(present, volume)
		}
	}
	return present, nil
}

// removableSource matches the block devices USB mass storage shows up as.
var removableSource = regexp.MustCompile(`^/dev/sd[a-z]+[0-9]*$`)

// systemMounts are never used for escrow even when backed by a matching device.
var systemMounts = map[string]bool{
	"/":         true,
	"/boot":     true,
	"/boot/efi": true,
	"/home":     true,
	"/usr":      true,
	"/var":      true,
}

// MountTable lists mounted SCSI disk partitions from a mounts(5) table such as /proc/mounts.
type MountTable struct {
	Path string
}

func (m MountTable) Volumes(ctx context.Context) ([]string, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot read mount table: %w", err)
	}
	defer f.Close()

	var volumes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !removableSource.MatchString(fields[0]) {
			continue
		}
		mountPoint := unescapeMount(fields[1])
		if systemMounts[mountPoint] {
			continue
		}
		volumes = append(volumes, mountPoint)
	}

	return volumes, scanner.Err()
}

// unescapeMount decodes the octal escapes (e.g. "\040" for a space) used in mount tables.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// DriveLetters lists the Windows drive roots other than the system drive.
type DriveLetters struct {
	// stat is os.Stat, replaced in tests.
	stat func(string) (os.FileInfo, error)
}

func (d DriveLetters) Volumes(ctx context.Context) ([]string, error) {
	stat := d.stat
	if stat == nil {
		stat = os.Stat
	}

	var volumes []string
	for letter := 'A'; letter <= 'Z'; letter++ {
		if letter == 'C' {
			continue
		}
		root := string(letter) + `:\`
		if info, err := stat(root); err == nil && info.IsDir() {
			volumes = append(volumes, root)
		}
	}
	return volumes, nil
}

// ListerFor picks the volume lister for the host. A non-empty static list always wins.
func ListerFor(sys *system.System, static []string) (VolumeLister, error) {
	if len(static) > 0 {
		return StaticVolumes(static), nil
	}

	switch sys.Family() {
	case system.Linux:
		return MountTable{Path: "/proc/mounts"}, nil
	case system.Windows:
		return DriveLetters{}, nil
	case system.Darwin:
		du, err := diskutil.ForProduct(sys.Product())
		if err != nil {
			return nil, err
		}
		return VolumeListerFunc(func(ctx context.Context) ([]string, error) {
			return diskutil.ExternalMountPoints(ctx, du)
		}), nil
	default:
		return nil, errors.New("no removable volume support for " + sys.Family().String())
	}
}
