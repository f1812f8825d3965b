package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemPartitions_MountPoints(t *testing.T) {
	tests := []struct {
		name       string
		partitions *SystemPartitions
		want       []string
	}{
		{
			name:       "Good case: nothing attached",
			partitions: &SystemPartitions{},
			want:       nil,
		},
		{
			name: "Good case: whole disk, partition and apfs volume mounts",
			partitions: &SystemPartitions{
				AllDisksAndPartitions: []DiskPart{
					{DeviceIdentifier: "disk4", MountPoint: "/Volumes/FAT"},
					{
						DeviceIdentifier: "disk5",
						Partitions: []Partition{
							{DeviceIdentifier: "disk5s1"},
							{DeviceIdentifier: "disk5s2", MountPoint: "/Volumes/KEYS"},
						},
					},
					{
						DeviceIdentifier: "disk6",
						APFSVolumes:      []APFSVolume{{DeviceIdentifier: "disk6s1", MountPoint: "/Volumes/Backup"}},
					},
				},
			},
			want: []string{"/Volumes/FAT", "/Volumes/KEYS", "/Volumes/Backup"},
		},
		{
			name: "Good case: internal disks are skipped",
			partitions: &SystemPartitions{
				AllDisksAndPartitions: []DiskPart{
					{DeviceIdentifier: "disk0", OSInternal: true, Partitions: []Partition{{MountPoint: "/"}}},
				},
			},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.partitions.MountPoints())
		})
	}
}
