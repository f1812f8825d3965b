package escrow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedlock/sedlock/internal/system"
)

func TestMountTable_Volumes(t *testing.T) {
	const mounts = `sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
/dev/nvme0n1p2 / ext4 rw,relatime 0 0
/dev/sda1 /boot/efi vfat rw,relatime 0 0
/dev/sdb1 /media/alice/KEYS vfat rw,nosuid,nodev,relatime 0 0
/dev/sdc /media/alice/My\040Stick exfat rw,nosuid,nodev,relatime 0 0
tmpfs /run tmpfs rw,nosuid,nodev 0 0
`
	path := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(path, []byte(mounts), 0o600))

	volumes, err := MountTable{Path: path}.Volumes(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"/media/alice/KEYS", "/media/alice/My Stick"}, volumes)
}

func TestMountTable_Missing(t *testing.T) {
	_, err := MountTable{Path: filepath.Join(t.TempDir(), "missing")}.Volumes(context.Background())

	assert.Error(t, err)
}

func TestStaticVolumes_SkipsAbsent(t *testing.T) {
	present := t.TempDir()

	volumes, err := StaticVolumes{present, filepath.Join(present, "absent")}.Volumes(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{present}, volumes)
}

type dirInfo struct{ os.FileInfo }

func (dirInfo) IsDir() bool { return true }

func TestDriveLetters_Volumes(t *testing.T) {
	d := DriveLetters{stat: func(name string) (os.FileInfo, error) {
		switch name {
		case `C:\`, `E:\`, `F:\`:
			return dirInfo{}, nil
		}
		return nil, os.ErrNotExist
	}}

	volumes, err := d.Volumes(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{`E:\`, `F:\`}, volumes)
}

func TestListerFor(t *testing.T) {
	lister, err := ListerFor(system.New(system.Linux, nil, 0), []string{"/mnt/keys"})
	require.NoError(t, err)
	assert.IsType(t, StaticVolumes{}, lister)

	lister, err = ListerFor(system.New(system.Linux, nil, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, MountTable{Path: "/proc/mounts"}, lister)

	lister, err = ListerFor(system.New(system.Windows, nil, 0), nil)
	require.NoError(t, err)
	assert.IsType(t, DriveLetters{}, lister)

	lister, err = ListerFor(system.New(system.Darwin, &system.Product{Release: system.Sonoma}, 0), nil)
	require.NoError(t, err)
	assert.IsType(t, VolumeListerFunc(nil), lister)

	_, err = ListerFor(system.New(system.Darwin, nil, 0), nil)
	assert.Error(t, err)

	_, err = ListerFor(system.New(system.UnknownFamily, nil, 0), nil)
	assert.Error(t, err)
}

