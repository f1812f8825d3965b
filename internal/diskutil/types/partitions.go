package types

// SystemPartitions mirrors the output format of the command "diskutil list -plist" to store all disk
// and partition information.
type SystemPartitions struct {
	AllDisks              []string   `plist:"AllDisks"`
	AllDisksAndPartitions []DiskPart `plist:"AllDisksAndPartitions"`
	VolumesFromDisks      []string   `plist:"VolumesFromDisks"`
	WholeDisks            []string   `plist:"WholeDisks"`
}

// MountPoints lists every mounted volume found on the disks, in listing order. Disks flagged as OS internal are
// skipped.
func (p *SystemPartitions) MountPoints() []string {
	var mounts []string
	add := func(mountPoint string) {
		if mountPoint != "" {
			mounts = append(mounts, mountPoint)
		}
	}

	for _, disk := range p.AllDisksAndPartitions {
		if disk.OSInternal {
			continue
		}
		add(disk.MountPoint)
		for _, part := range disk.Partitions {
			add(part.MountPoint)
		}
		for _, vol := range disk.APFSVolumes {
			add(vol.MountPoint)
		}
	}

	return mounts
}

// DiskPart represents a whole disk and the partitions or volumes on it.
type DiskPart struct {
	APFSVolumes      []APFSVolume `plist:"APFSVolumes"`
	Content          string       `plist:"Content"`
	DeviceIdentifier string       `plist:"DeviceIdentifier"`
	MountPoint       string       `plist:"MountPoint"`
	OSInternal       bool         `plist:"OSInternal"`
	Partitions       []Partition  `plist:"Partitions"`
	Size             uint64       `plist:"Size"`
	VolumeName       string       `plist:"VolumeName"`
}

// Partition stores relevant information about a partition in macOS.
type Partition struct {
	Content          string `plist:"Content"`
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	MountPoint       string `plist:"MountPoint"`
	Size             uint64 `plist:"Size"`
	VolumeName       string `plist:"VolumeName"`
}

// APFSVolume represents a macOS APFS Volume with relevant information.
type APFSVolume struct {
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	MountPoint       string `plist:"MountPoint"`
	OSInternal       bool   `plist:"OSInternal"`
	Size             uint64 `plist:"Size"`
	VolumeName       string `plist:"VolumeName"`
}
