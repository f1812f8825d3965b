package diskutil

import (
	"fmt"
	"io"

	"howett.net/plist"

	"github.com/sedlock/sedlock/internal/diskutil/types"
)

// Decoder outlines the functionality necessary for decoding plist output from the macOS diskutil command.
type Decoder interface {
	DecodeSystemPartitions(reader io.ReadSeeker) (*types.SystemPartitions, error)
}

// PlistDecoder is an empty struct that provides the implementation for the Decoder interface.
type PlistDecoder struct{}

// DecodeSystemPartitions decodes the raw plist data for all disks and partitions into a new SystemPartitions struct.
func (d *PlistDecoder) DecodeSystemPartitions(reader io.ReadSeeker) (partitions *types.SystemPartitions, err error) {
	// Catch panics thrown by the Decode method
	defer func() {
		if panicErr := recover(); panicErr != nil {
			partitions = nil
			err = fmt.Errorf("diskutil: panic occurred while decoding: %s", panicErr)
		}
	}()

	partitions = &types.SystemPartitions{}
	if err = plist.NewDecoder(reader).Decode(partitions); err != nil {
		return nil, fmt.Errorf("diskutil: failed to decode diskutil list output: %w", err)
	}

	return partitions, nil
}
