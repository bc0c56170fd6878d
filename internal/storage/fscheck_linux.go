//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// linuxMagic maps statfs f_type values to names, with remote mounts flagged.
// Unknown magics are reported in hex and treated as local.
var linuxMagic = map[uint32]fsKind{
	0x6969:     {"nfs", true},
	0xFF534D42: {"cifs", true},
	0x517B:     {"smbfs", true},
	0xFE534D42: {"smb2", true},
	0x01021997: {"9p", true},
	0x00C36400: {"ceph", true},
	0x5346414F: {"afs", true},
	0xEF53:     {"ext4", false},
	0x58465342: {"xfs", false},
	0x9123683E: {"btrfs", false},
	0x01021994: {"tmpfs", false},
	0x794C7630: {"overlay", false},
}

func statfsKind(path string) (fsKind, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return fsKind{}, fmt.Errorf("statfs: %w", err)
	}
	// f_type is 32 bits wide; the Go field is int32 or int64 depending on arch.
	magic := uint32(st.Type)
	if k, ok := linuxMagic[magic]; ok {
		return k, nil
	}
	return fsKind{Name: fmt.Sprintf("0x%x", magic)}, nil
}
