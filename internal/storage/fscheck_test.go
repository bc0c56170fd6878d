package storage

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedProbe(k fsKind) func(string) (fsKind, error) {
	return func(string) (fsKind, error) { return k, nil }
}

func TestCheckLocal(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "claudegw.db")

	t.Run("local passes", func(t *testing.T) {
		require.NoError(t, checkLocal(dbPath, fixedProbe(fsKind{Name: "ext4"})))
	})

	t.Run("remote rejected", func(t *testing.T) {
		err := checkLocal(dbPath, fixedProbe(fsKind{Name: "nfs", Remote: true}))
		var netErr *NetworkFilesystemError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, "nfs", netErr.FSType)
		assert.Equal(t, dbPath, netErr.Path)
		assert.Contains(t, err.Error(), "state.path")
	})

	t.Run("no probe passes", func(t *testing.T) {
		err := checkLocal(dbPath, func(string) (fsKind, error) { return fsKind{}, errNoProbe })
		assert.NoError(t, err)
	})

	t.Run("probe failure wrapped", func(t *testing.T) {
		boom := errors.New("statfs failed")
		err := checkLocal(dbPath, func(string) (fsKind, error) { return fsKind{}, boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty path", func(t *testing.T) {
		assert.Error(t, checkLocal("", fixedProbe(fsKind{})))
	})
}

func TestCheckLocalProbesClosestExistingDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "claudegw.db")

	var probed string
	err := checkLocal(dbPath, func(p string) (fsKind, error) {
		probed = p
		return fsKind{Name: "apfs"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, probed)
}

func TestKindFromName(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"9p":     true,
		"apfs":   false,
		"0x6969": false,
	}
	for name, remote := range cases {
		assert.Equalf(t, remote, kindFromName(name).Remote, "kindFromName(%q)", name)
	}
}

func TestStatfsKindOnTempDir(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("no probe on " + runtime.GOOS)
	}
	k, err := statfsKind(t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, k.Name)
}
