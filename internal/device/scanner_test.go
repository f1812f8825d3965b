package device

import (
	"context"
	"errors"
	"io/ioutil"
	"os/exec"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedlock/sedlock/internal/hasher"
	"github.com/sedlock/sedlock/internal/sedutil"
	mock_sedutil "github.com/sedlock/sedlock/internal/sedutil/mocks"
	"github.com/sedlock/sedlock/internal/system"
)

func init() {
	logrus.SetOutput(ioutil.Discard)
}

// testHasher is a cheap deterministic Hasher.
type testHasher struct{}

func (testHasher) Hash(password, salt, msid string) string {
	return password + "|" + salt + "|" + msid
}

const scanTwo = `Scanning for Opal compliant disks
/dev/sda   12  Crucial_CT250MX200SSD1 : MU04 : 1530F0012345
/dev/sdb   No  WDC WD10EZEX-08WN4A0 : 01.01A01 : WD-WCC6Y0123456
/dev/sdc    2  Samsung SSD 860 : RVT02B6Q : S3Z9NB0K123456
/dev/sdd    2  Samsung SSD 870 : SVT01B6Q : S6PNNM0T654321
`

func TestScanner_Scan(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inv := mock_sedutil.NewMockInvoker(ctrl)
	inv.EXPECT().Capture(ctx, sedutil.Scan()).Return(scanTwo, nil)

	// sda: locked
	inv.EXPECT().Capture(ctx, sedutil.Query("/dev/sda")).Return("Locked = Y, LockingEnabled = Y\nLocking Users = 8\n", nil)
	inv.EXPECT().Capture(ctx, sedutil.PrintDefaultPassword("/dev/sda")).Return("MSID: MSIDA\n", nil)

	// sdb: not TCG capable
	inv.EXPECT().Capture(ctx, sedutil.Query("/dev/sdb")).Return("Invalid or unsupported disk\n", errors.New("exit 1"))

	// sdc: locking enabled with a readable audit log
	inv.EXPECT().Capture(ctx, sedutil.Query("/dev/sdc")).Return(queryUnlockedSetup, nil)
	inv.EXPECT().Capture(ctx, sedutil.PrintDefaultPassword("/dev/sdc")).Return("MSID: MSIDC\n", nil)
	recovery := hasher.RecoveryDigest(testHasher{}, " S3Z9NB0K123456", "MSIDC")
	inv.EXPECT().Capture(ctx, sedutil.AuditRead(recovery, "User8", "/dev/sdc")).Return("Fidelity Audit Log\nTotal Number of Audit Entries : 0\n", nil)

	// sdd: locking enabled but never set up by us
	inv.EXPECT().Capture(ctx, sedutil.Query("/dev/sdd")).Return("Locked = N, LockingEnabled = Y\nLocking Users = 2\n", nil)
	inv.EXPECT().Capture(ctx, sedutil.PrintDefaultPassword("/dev/sdd")).Return("MSID: MSIDD\n", nil)
	recoveryD := hasher.RecoveryDigest(testHasher{}, " S6PNNM0T654321", "MSIDD")
	inv.EXPECT().Capture(ctx, sedutil.AuditRead(recoveryD, "User2", "/dev/sdd")).Return("", errors.New("NOT_AUTHORIZED"))

	s := &Scanner{Invoker: inv, Hasher: testHasher{}, Family: system.Linux}
	r, err := s.Scan(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []int{0}, r.Indices(Locked))
	assert.Equal(t, []int{2}, r.Indices(Unlocked))
	assert.Equal(t, []int{3}, r.Indices(NonSetup))
	assert.Equal(t, []int{0, 2, 3}, r.Indices(AllTCG))

	sdb, _ := r.Device(1)
	assert.False(t, sdb.TCG)
	assert.Equal(t, NotAvailable, sdb.MSID)

	sdc, _ := r.Device(2)
	assert.Equal(t, "MSIDC", sdc.MSID)
	assert.Equal(t, NotAvailable, sdc.PBAVersion)
	assert.Equal(t, BlockSIDEnabled, sdc.BlockSID)
	assert.Equal(t, "User8", sdc.UserAuthority())

	sda, _ := r.Device(0)
	assert.Equal(t, NotSupported, sda.PBAVersion)
}

func TestScanner_ScanToolMissing(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inv := mock_sedutil.NewMockInvoker(ctrl)
	inv.EXPECT().Capture(ctx, sedutil.Scan()).Return("", &sedutil.InvocationError{Command: "sedutil-cli --scan", Err: exec.ErrNotFound})

	s := &Scanner{Invoker: inv, Hasher: testHasher{}, Family: system.Linux}
	r, err := s.Scan(ctx, nil)

	var invErr *sedutil.InvocationError
	assert.ErrorAs(t, err, &invErr)
	require.NotNil(t, r, "an empty registry is returned with the error")
	assert.Equal(t, 0, r.Len())
}

func TestScanner_ScanCarriesOverMSID(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	previous := NewRegistryState([]Device{
		{Handle: "/dev/sdq", Vendor: "Crucial_CT250MX200SSD1", Serial: "1530F0012345", Salt: " 1530F0012345", MSID: "OLDMSID", PBAVersion: "2.0", TCG: true},
	})

	inv := mock_sedutil.NewMockInvoker(ctrl)
	inv.EXPECT().Capture(ctx, sedutil.Scan()).Return("/dev/sda   12  Crucial_CT250MX200SSD1 : MU04 : 1530F0012345\n", nil)
	inv.EXPECT().Capture(ctx, sedutil.Query("/dev/sda")).Return("Locked = Y\nMBR shadowing Not Supported = N\nLocking Users = 8\n", nil)
	inv.EXPECT().Capture(ctx, sedutil.PrintDefaultPassword("/dev/sda")).Return("", errors.New("exit 1"))

	s := &Scanner{Invoker: inv, Hasher: testHasher{}, Family: system.Linux}
	r, err := s.Scan(ctx, previous)
	require.NoError(t, err)

	d, _ := r.Device(0)
	assert.Equal(t, "OLDMSID", d.MSID)
	assert.Equal(t, "2.0", d.PBAVersion)
	assert.Equal(t, "/dev/sda", d.Handle)
}
