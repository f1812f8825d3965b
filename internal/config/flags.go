package config

import (
	"github.com/spf13/pflag"
)

// BindFlags registers a flag for each setting on fs, writing into c. Unset flags leave c's zero values, so they
// do not override the lower layers.
func BindFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.ToolPath, "tool", "", "path to the sedutil-cli binary (default \"sedutil-cli\")")
	fs.IntVar(&c.HashIterations, "hash-iterations", 0, "PBKDF2 iteration count used to derive drive credentials")
	fs.StringVar(&c.LockingRange, "locking-range", "", "locking range managed on each drive (default \"0\")")
	fs.DurationVar(&c.DeviceTimeout, "device-timeout", 0, "time allowed per drive for an operation (default 30s)")
	fs.DurationVar(&c.PBATimeout, "pba-timeout", 0, "time allowed per drive for a PBA image write (default 7m30s)")
	fs.DurationVar(&c.USBTimeout, "usb-timeout", 0, "time allowed per drive for writing a PBA USB stick (default 2m0s)")
	fs.StringVar(&c.PBAVersionConstraint, "pba-version", "", "semver constraint a written PBA image must satisfy")
	fs.BoolVar(&c.RawPassphrases, "raw-passphrases", false, "hash passphrases as typed, keeping whitespace")
	fs.StringVar(&c.MetricsFile, "metrics-file", "", "write job metrics to this file in the Prometheus text format")
	fs.StringVar(&c.Escrow.Dir, "escrow-dir", "", "escrow directory name on removable volumes (default \"FidelityLock\")")
	fs.StringSliceVar(&c.Escrow.Volumes, "escrow-volume", nil, "escrow volume to use instead of discovering removable volumes (repeatable)")
	fs.StringVar(&c.Escrow.Target, "escrow-target", "", "preferred volume for new escrow files")
}
