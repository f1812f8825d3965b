// Package diskutil provides the functionality necessary for interacting with macOS's diskutil CLI.
package diskutil

//go:generate mockgen -destination mocks/mock_diskutil.go github.com/sedlock/sedlock/internal/diskutil DiskUtil

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sedlock/sedlock/internal/diskutil/types"
	"github.com/sedlock/sedlock/internal/system"
)

// externalArgs filters diskutil's listing to physical devices attached externally (USB, Thunderbolt).
var externalArgs = []string{"external", "physical"}

// DiskUtil outlines the functionality necessary for wrapping macOS's diskutil tool.
type DiskUtil interface {
	// List fetches all disk and partition information for the system.
	// This output will be filtered based on the args provided.
	List(ctx context.Context, args []string) (*types.SystemPartitions, error)
}

// ForProduct creates a new diskutil controller for the given product.
func ForProduct(p *system.Product) (DiskUtil, error) {
	if p == nil {
		return nil, errors.New("product required")
	}

	switch p.Release {
	case system.Unknown:
		return nil, errors.New("unknown release")
	default:
		return &diskutilCmd{
			util: &DiskUtilityCmd{},
			dec:  &PlistDecoder{},
		}, nil
	}
}

// diskutilCmd wraps all the functionality necessary for interacting with macOS's diskutil in Go.
type diskutilCmd struct {
	// util provides the raw diskutil output.
	util UtilImpl

	// dec is the Decoder used to decode the raw output from UtilImpl into usable structs.
	dec Decoder
}

// List utilizes the UtilImpl.List method to fetch the raw list output from diskutil and returns the decoded
// output in a SystemPartitions struct.
func (d *diskutilCmd) List(ctx context.Context, args []string) (*types.SystemPartitions, error) {
	rawPartitions, err := d.util.List(ctx, args)
	if err != nil {
		return nil, err
	}

	partitions, err := d.dec.DecodeSystemPartitions(strings.NewReader(rawPartitions))
	if err != nil {
		return nil, err
	}

	return partitions, nil
}

// ExternalMountPoints lists the mount points of every volume on externally attached physical disks.
func ExternalMountPoints(ctx context.Context, du DiskUtil) ([]string, error) {
	partitions, err := du.List(ctx, externalArgs)
	if err != nil {
		return nil, fmt.Errorf("cannot list external disks: %w", err)
	}

	return partitions.MountPoints(), nil
}
