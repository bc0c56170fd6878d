//go:build darwin

package storage

import (
	"fmt"
	"syscall"
)

func statfsKind(path string) (fsKind, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return fsKind{}, fmt.Errorf("statfs: %w", err)
	}
	name := make([]byte, 0, len(st.Fstypename))
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		name = append(name, byte(c))
	}
	return kindFromName(string(name)), nil
}
