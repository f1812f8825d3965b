package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedlock/sedlock/internal/config"
	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/escrow"
	"github.com/sedlock/sedlock/internal/lifecycle"
	"github.com/sedlock/sedlock/internal/sedutil"
	mock_sedutil "github.com/sedlock/sedlock/internal/sedutil/mocks"
	"github.com/sedlock/sedlock/internal/system"
)

func init() {
	logrus.SetOutput(ioutil.Discard)
}

const (
	scanLocked   = "Scanning for Opal compliant disks\n/dev/sdc    2  Samsung SSD 860 : RVT02B6Q : S3Z9NB0K123456\n"
	queryLocked  = "Locked = Y, LockingEnabled = Y\nLocking Users = 8\n"
	passphrase   = "correct horse battery"
	escrowDigest = "abababababababababababababababababababababababababababababababab"
)

// scriptedPrompter answers prompts from a fixed list.
type scriptedPrompter struct {
	answers []string
	prompts []string
}

func (p *scriptedPrompter) next(prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if len(p.answers) == 0 {
		return "", fmt.Errorf("unexpected prompt %q", prompt)
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptedPrompter) Passphrase(prompt string) (string, error) {
	return p.next(prompt)
}

func (p *scriptedPrompter) Line(prompt string) (string, error) {
	return p.next(prompt)
}

// checks records the mutating commands run against the mock.
type checks struct {
	mu   sync.Mutex
	cmds []sedutil.Command
}

func (c *checks) record(ctx context.Context, cmd sedutil.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return nil
}

func (c *checks) verbs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var verbs []string
	for _, cmd := range c.cmds {
		verbs = append(verbs, cmd.Verb)
	}
	return verbs
}

func (c *checks) find(verb string) (sedutil.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range c.cmds {
		if cmd.Verb == verb {
			return cmd, true
		}
	}
	return sedutil.Command{}, false
}

func testConfig() *config.Config {
	c := config.Defaults()
	c.HashIterations = 1
	return &c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newTestApp wires an app around a mock invoker that reports one locked drive.
func newTestApp(t *testing.T, answers ...string) (*app, *checks, *bytes.Buffer) {
	t.Helper()
	ctrl := gomock.NewController(t)

	inv := mock_sedutil.NewMockInvoker(ctrl)
	inv.EXPECT().Capture(gomock.Any(), sedutil.Scan()).Return(scanLocked, nil).AnyTimes()
	inv.EXPECT().Capture(gomock.Any(), sedutil.Query("/dev/sdc")).Return(queryLocked, nil).AnyTimes()
	inv.EXPECT().Capture(gomock.Any(), sedutil.PrintDefaultPassword("/dev/sdc")).Return("MSID: MSIDC\n", nil).AnyTimes()

	rec := &checks{}
	inv.EXPECT().Check(gomock.Any(), gomock.Any()).DoAndReturn(rec.record).AnyTimes()

	out := &bytes.Buffer{}
	volumes := escrow.StaticVolumes{t.TempDir()}
	a, err := newApp(testConfig(), system.Linux, inv, volumes, &scriptedPrompter{answers: answers}, out)
	require.NoError(t, err)

	return a, rec, out
}

func TestRunUnlock_Passphrase(t *testing.T) {
	ctx := testContext(t)
	a, rec, out := newTestApp(t, passphrase)

	err := runUnlock(ctx, a, unlock{selection: selection{devices: []string{"/dev/sdc"}}})
	require.NoError(t, err)

	verbs := rec.verbs()
	require.GreaterOrEqual(t, len(verbs), 2)
	assert.Equal(t, []string{"setMBRDone", "setLockingRange"}, verbs[:2])
	assert.Empty(t, a.runner.Registry.Indices(device.Locked))
	assert.Contains(t, out.String(), "Running unlock on 1 drive(s)...")
}

func TestRunUnlock_MetricsFile(t *testing.T) {
	ctx := testContext(t)
	a, _, _ := newTestApp(t, passphrase)
	a.cfg.MetricsFile = filepath.Join(t.TempDir(), "sedlock.prom")

	err := runUnlock(ctx, a, unlock{selection: selection{devices: []string{"/dev/sdc"}}})
	require.NoError(t, err)

	data, err := os.ReadFile(a.cfg.MetricsFile)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `sedlock_jobs_total{operation="unlock",result="success"} 1`)
	assert.Contains(t, text, `sedlock_device_operations_total{operation="unlock",result="success"} 1`)
	assert.Contains(t, text, `sedlock_job_duration_seconds_count{operation="unlock"} 1`)
}

func TestRunUnlock_MetricsFileFailedJob(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.cfg.MetricsFile = filepath.Join(t.TempDir(), "sedlock.prom")

	err := runUnlock(testContext(t), a, unlock{
		selection:   selection{all: true},
		credentials: credentials{fromEscrow: true},
	})
	require.Error(t, err)

	data, err := os.ReadFile(a.cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sedlock_jobs_total{operation="unlock",result="failure"} 1`)
	assert.Contains(t, string(data), `sedlock_device_operations_total{operation="unlock",result="failure"} 1`)
}

func TestRunUnlock_MetricsFileUnwritable(t *testing.T) {
	a, _, _ := newTestApp(t, passphrase)
	a.cfg.MetricsFile = filepath.Join(t.TempDir(), "missing", "sedlock.prom")

	err := runUnlock(testContext(t), a, unlock{selection: selection{devices: []string{"/dev/sdc"}}})
	require.NoError(t, err, "a metrics file that cannot be written does not fail the command")
	assert.NoFileExists(t, a.cfg.MetricsFile)
}

func TestRunPBAUSB(t *testing.T) {
	a, rec, out := newTestApp(t, agreement)

	err := runPBAUSB(testContext(t), a, pbaUSB{device: "/dev/sdc", usb: "/dev/sdf"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "WARNING: pba-usb erases ALL data on /dev/sdf.")
	assert.Equal(t, []string{"createUSB"}, rec.verbs())
	c, _ := rec.find("createUSB")
	assert.Equal(t, []string{"UEFI", "/dev/sdc", "/dev/sdf"}, c.Args)
	assert.Len(t, a.runner.Registry.Indices(device.Locked), 1, "the drive record is unchanged")
}

func TestRunPBAUSB_TargetIsDrive(t *testing.T) {
	a, rec, _ := newTestApp(t, agreement)

	err := runPBAUSB(testContext(t), a, pbaUSB{device: "/dev/sdc", usb: "/dev/sdc"})
	assert.ErrorIs(t, err, lifecycle.ErrUSBTarget)
	assert.Empty(t, rec.verbs())
}

func TestRunPBAUSB_Declined(t *testing.T) {
	a, rec, _ := newTestApp(t, "no")

	err := runPBAUSB(testContext(t), a, pbaUSB{device: "/dev/sdc", usb: "/dev/sdf"})
	assert.ErrorIs(t, err, errAborted)
	assert.Empty(t, rec.verbs())
}

func TestRunUnlock_FromEscrow(t *testing.T) {
	ctx := testContext(t)
	a, rec, _ := newTestApp(t)
	require.NoError(t, a.store.Write(ctx, "Samsung SSD 860", "S3Z9NB0K123456", string(sedutil.Admin1), escrowDigest))

	err := runUnlock(ctx, a, unlock{
		selection:   selection{all: true},
		credentials: credentials{fromEscrow: true},
	})
	require.NoError(t, err)

	cmd, ok := rec.find("setLockingRange")
	require.True(t, ok)
	assert.Contains(t, cmd.Args, escrowDigest)
	assert.False(t, cmd.User, "admin entry unlocks as Admin1")
}

func TestRunUnlock_NoSelection(t *testing.T) {
	a, rec, _ := newTestApp(t, passphrase)

	err := runUnlock(testContext(t), a, unlock{})
	assert.ErrorIs(t, err, errNoDrives)
	assert.Empty(t, rec.verbs())
}

func TestRunUnlock_EscrowEmpty(t *testing.T) {
	a, rec, out := newTestApp(t)

	err := runUnlock(testContext(t), a, unlock{
		selection:   selection{all: true},
		credentials: credentials{fromEscrow: true},
	})
	assert.ErrorContains(t, err, "unlock failed on 1 of 1 drives")
	assert.Contains(t, out.String(), "The operation failed for the following drives: /dev/sdc")
	assert.Empty(t, rec.verbs())
	assert.Len(t, a.runner.Registry.Indices(device.Locked), 1)
}

func TestRunUnlock_UnknownDevice(t *testing.T) {
	a, _, _ := newTestApp(t, passphrase)

	err := runUnlock(testContext(t), a, unlock{selection: selection{devices: []string{"/dev/sdz"}}})
	assert.ErrorContains(t, err, "/dev/sdz is not one of the locked drives")
}

func TestRunUnlock_BadMode(t *testing.T) {
	a, _, _ := newTestApp(t)

	err := runUnlock(testContext(t), a, unlock{mode: "sideways"})
	assert.Error(t, err)
}

func TestRunRevert_Declined(t *testing.T) {
	a, rec, out := newTestApp(t, "no thanks")

	err := runRevert(testContext(t), a, revert{selection: selection{all: true}})
	assert.ErrorIs(t, err, errAborted)
	assert.Contains(t, out.String(), "WARNING: revert erases ALL data")
	assert.Empty(t, rec.verbs())
}

func TestRunRevertPSID_Incorrect(t *testing.T) {
	a, rec, out := newTestApp(t, agreement)
	a.machine.Invoker = failingPSID{Invoker: a.machine.Invoker}
	err := runRevertPSID(testContext(t), a, revertPSID{device: "/dev/sdc", psid: "0123456789ABCDEF0123456789ABCDEF"})
	assert.Error(t, err)
	assert.Contains(t, out.String(), lifecycle.ErrIncorrectPSID.Error())
	assert.Equal(t, []string{"auditwrite", "auditwrite"}, rec.verbs(), "only the recovery audit entries are written")
	assert.Len(t, a.runner.Registry.Indices(device.Locked), 1)
}

// failingPSID rejects every PSID revert.
type failingPSID struct {
	sedutil.Invoker
}

func (f failingPSID) Check(ctx context.Context, cmd sedutil.Command) error {
	if cmd.Verb == sedutil.RevertPSID("", "").Verb {
		return &sedutil.AuthError{Reason: sedutil.ErrNotAuthorized}
	}
	return f.Invoker.Check(ctx, cmd)
}

func TestRunSetup_WeakPassphrase(t *testing.T) {
	a, rec, _ := newTestApp(t, "12345678", "12345678")

	err := runSetup(testContext(t), a, setup{selection: selection{all: true}})
	assert.ErrorIs(t, err, lifecycle.ErrPassphraseWeak)
	assert.Empty(t, rec.verbs())
}

func TestRunStatus(t *testing.T) {
	testCases := []struct {
		name   string
		output string
		want   []string
	}{
		{
			name:   "Good case: table",
			output: "table",
			want:   []string{"DEVICE", "/dev/sdc", "Samsung SSD 860", "Locked"},
		},
		{
			name:   "Good case: openmetrics",
			output: "openmetrics",
			want:   []string{`sedlock_drive_locked{device="/dev/sdc"} 1`, "# EOF"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, _, out := newTestApp(t)
			require.NoError(t, runStatus(testContext(t), a, status{output: tc.output}))
			for _, w := range tc.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}
}

func TestRunStatus_JSON(t *testing.T) {
	a, _, out := newTestApp(t)
	require.NoError(t, runStatus(testContext(t), a, status{output: "json"}))

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "/dev/sdc", got[0]["handle"])
	assert.Equal(t, true, got[0]["locked"])
	assert.Equal(t, "locked", got[0]["state"])
	assert.NotContains(t, out.String(), "MSIDC", "credentials material is never printed")
}

func TestRunStatus_UnknownFormat(t *testing.T) {
	a, _, _ := newTestApp(t)
	assert.Error(t, runStatus(testContext(t), a, status{output: "xml"}))
}

func TestConfirm(t *testing.T) {
	testCases := []struct {
		name   string
		answer string
		skip   bool
		want   error
	}{
		{name: "Good case: agreed", answer: "I agree"},
		{name: "Good case: agreed with whitespace", answer: "  I agree "},
		{name: "Good case: skipped", skip: true},
		{name: "Bad case: declined", answer: "yes", want: errAborted},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := &scriptedPrompter{answers: []string{tc.answer}}
			err := confirm(p, ioutil.Discard, "danger", tc.skip)
			assert.Equal(t, tc.want, err)
			if tc.skip {
				assert.Empty(t, p.prompts)
			}
		})
	}
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("first\r\nlast"))

	line, err := readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	line, err = readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = readLine(r)
	assert.Error(t, err)
}

func TestWriteRecords(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	records := []escrow.StoredRecord{
		{
			Record: escrow.Record{
				Vendor: "Samsung SSD 860",
				Serial: "S3Z9NB0K123456",
				Entries: []escrow.Entry{
					{Timestamp: "20240227120000", Label: "User1", Digest: escrowDigest},
					{Timestamp: "20240229120000", Label: "Admin1", Digest: escrowDigest},
				},
			},
			Path: "/media/usb0/FidelityLock/Samsung SSD 860_S3Z9NB0K123456.txt",
		},
	}

	var out bytes.Buffer
	require.NoError(t, writeRecords(&out, records, now))
	assert.Contains(t, out.String(), "Admin1,User1")
	assert.Contains(t, out.String(), "1 day ago")

	out.Reset()
	require.NoError(t, writeRecords(&out, nil, now))
	assert.Equal(t, "No escrow files found.\n", out.String())
}

func TestMainCommand(t *testing.T) {
	root := MainCommand()
	for _, name := range []string{"status", "setup", "passwd", "lock", "unlock", "revert", "revert-psid", "pba-write", "pba-usb", "add-user", "audit", "escrow"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
	list, _, err := root.Find([]string{"escrow", "list"})
	require.NoError(t, err)
	assert.Equal(t, "list", list.Name())
}
