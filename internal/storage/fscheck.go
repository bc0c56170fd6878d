package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// errNoProbe is returned by statfsKind where the platform has no probe.
var errNoProbe = errors.New("no filesystem probe for this platform")

// fsKind is what a probe learned about the filesystem holding a path.
type fsKind struct {
	Name   string
	Remote bool
}

// remoteNames are filesystem names reported by name-based probes that sit on
// the network. Magic-number probes set Remote themselves.
var remoteNames = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

func kindFromName(name string) fsKind {
	name = strings.ToLower(strings.TrimSpace(name))
	return fsKind{Name: name, Remote: remoteNames[name]}
}

// NetworkFilesystemError reports a state database on a network mount. SQLite
// file locks are not reliable there.
type NetworkFilesystemError struct {
	Path   string
	FSType string
}

func (e *NetworkFilesystemError) Error() string {
	return fmt.Sprintf("state.path %q is on %s, a network filesystem; move the run history to a local disk", e.Path, e.FSType)
}

// CheckLocalFilesystem returns a *NetworkFilesystemError when path, or the
// closest directory above it that exists, is network mounted. Platforms
// without a probe always pass.
func CheckLocalFilesystem(path string) error {
	return checkLocal(path, statfsKind)
}

func checkLocal(path string, probe func(string) (fsKind, error)) error {
	if path == "" {
		return errors.New("state.path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}
	dir, err := closestExisting(abs)
	if err != nil {
		return err
	}

	kind, err := probe(dir)
	switch {
	case errors.Is(err, errNoProbe):
		return nil
	case err != nil:
		return fmt.Errorf("probe filesystem at %q: %w", dir, err)
	case kind.Remote:
		return &NetworkFilesystemError{Path: path, FSType: kind.Name}
	}
	return nil
}

// closestExisting walks up from abs until a path exists.
func closestExisting(abs string) (string, error) {
	for p := abs; ; {
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", p, err)
		}
		up := filepath.Dir(p)
		if up == p {
			return "", fmt.Errorf("no part of %q exists", abs)
		}
		p = up
	}
}
