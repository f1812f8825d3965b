// Package config loads sedlock settings from defaults, a YAML file, SEDLOCK_* environment variables and command
// line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Masterminds/semver"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/sedlock/sedlock/internal/escrow"
	"github.com/sedlock/sedlock/internal/hasher"
	"github.com/sedlock/sedlock/internal/job"
	"github.com/sedlock/sedlock/internal/lifecycle"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SEDLOCK_"

// Config holds every tunable setting.
type Config struct {
	// ToolPath is the sedutil-cli binary.
	ToolPath string `yaml:"tool_path" env:"TOOL_PATH"`
	// HashIterations is the PBKDF2 iteration count.
	HashIterations int `yaml:"hash_iterations" env:"HASH_ITERATIONS"`
	// LockingRange is the locking range managed on every drive.
	LockingRange string `yaml:"locking_range" env:"LOCKING_RANGE"`
	// DeviceTimeout is the per drive budget of most operations.
	DeviceTimeout time.Duration `yaml:"device_timeout" env:"DEVICE_TIMEOUT"`
	// PBATimeout is the per drive budget of a PBA image write.
	PBATimeout time.Duration `yaml:"pba_timeout" env:"PBA_TIMEOUT"`
	// USBTimeout is the per drive budget of writing a bootable PBA USB stick.
	USBTimeout time.Duration `yaml:"usb_timeout" env:"USB_TIMEOUT"`
	// PBAVersionConstraint, when set, must be satisfied by written PBA images (e.g. ">= 1.2").
	PBAVersionConstraint string `yaml:"pba_version_constraint" env:"PBA_VERSION_CONSTRAINT"`
	// RawPassphrases hashes passphrases as typed, keeping whitespace. Drives set up by FidelityLock need it when
	// their passphrase contains whitespace.
	RawPassphrases bool `yaml:"raw_passphrases" env:"RAW_PASSPHRASES"`
	// MetricsFile, when set, receives the job metrics in the Prometheus text format after every drive job.
	MetricsFile string `yaml:"metrics_file" env:"METRICS_FILE"`

	Escrow Escrow `yaml:"escrow" envPrefix:"ESCROW_"`
}

// Escrow configures the credential escrow store.
type Escrow struct {
	// Dir is the directory name looked for on each volume.
	Dir string `yaml:"dir" env:"DIR"`
	// Volumes replaces removable volume discovery with a fixed list.
	Volumes []string `yaml:"volumes" env:"VOLUMES" envSeparator:","`
	// Target is the preferred volume for new escrow files.
	Target string `yaml:"target" env:"TARGET"`
}

// Defaults returns the built in settings.
func Defaults() Config {
	return Config{
		ToolPath:       sedutil.DefaultToolPath,
		HashIterations: hasher.DefaultIterations,
		LockingRange:   lifecycle.DefaultLockingRange,
		DeviceTimeout:  job.DefaultDeviceBudget,
		PBATimeout:     job.PBAWriteBudget,
		USBTimeout:     job.USBWriteBudget,
		Escrow: Escrow{
			Dir: escrow.DefaultDir,
		},
	}
}

// Load merges flags over the environment over the YAML file at path (optional) over the defaults.
func Load(path string, flags Config) (*Config, error) {
	return newBuilder().
		with(flags).
		withEnv(env.Options{Prefix: EnvPrefix}).
		withFile(path).
		with(Defaults()).
		build()
}

// fromEnv reads the environment layer.
func fromEnv(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	return c, nil
}

// fromFile reads the YAML layer.
func fromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return c, nil
}

// PBAConstraint parses PBAVersionConstraint. It returns nil when no constraint is configured.
func (c *Config) PBAConstraint() (*semver.Constraints, error) {
	if c.PBAVersionConstraint == "" {
		return nil, nil
	}
	constraint, err := semver.NewConstraint(c.PBAVersionConstraint)
	if err != nil {
		return nil, fmt.Errorf("pba_version_constraint %q: %w", c.PBAVersionConstraint, err)
	}
	return constraint, nil
}

// Validate checks the merged settings.
func (c *Config) Validate() error {
	var errs []error
	if c.ToolPath == "" {
		errs = append(errs, errors.New("tool_path must be set"))
	}
	if c.HashIterations <= 0 {
		errs = append(errs, fmt.Errorf("hash_iterations must be positive, got %d", c.HashIterations))
	}
	if _, err := strconv.ParseUint(c.LockingRange, 10, 16); err != nil {
		errs = append(errs, fmt.Errorf("locking_range %q is not a range number", c.LockingRange))
	}
	if c.DeviceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("device_timeout must be positive, got %s", c.DeviceTimeout))
	}
	if c.PBATimeout <= 0 {
		errs = append(errs, fmt.Errorf("pba_timeout must be positive, got %s", c.PBATimeout))
	}
	if c.USBTimeout <= 0 {
		errs = append(errs, fmt.Errorf("usb_timeout must be positive, got %s", c.USBTimeout))
	}
	if _, err := c.PBAConstraint(); err != nil {
		errs = append(errs, err)
	}
	if c.Escrow.Dir == "" {
		errs = append(errs, errors.New("escrow.dir must be set"))
	}
	return errors.Join(errs...)
}

// Budget returns the per drive budget for op.
func (c *Config) Budget(op lifecycle.Operation) time.Duration {
	switch op {
	case lifecycle.OpPBAWrite:
		return c.PBATimeout
	case lifecycle.OpPBAUSB:
		return c.USBTimeout
	default:
		return c.DeviceTimeout
	}
}
