package confkit_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	require.Equal(t, "/abs/path.yaml", confkit.ResolvePath("/base", "/abs/path.yaml"))
	require.Equal(t, filepath.Join("/base", "rel.yaml"), confkit.ResolvePath("/base", "rel.yaml"))

	t.Setenv("CONF_DIR", "sub")
	require.Equal(t, filepath.Join("/base", "sub", "x.yaml"), confkit.ResolvePath("/base", "${CONF_DIR}/x.yaml"))
}

func TestSection_HydrateSkipsEmptyFile(t *testing.T) {
	var s confkit.Section[struct{ Name string }]
	require.NoError(t, s.Hydrate("/base", nil))
	require.Nil(t, s.Value)
}

func TestSection_HydrateLoadsRelativeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub.yaml"), []byte("name: loaded\n"), 0o644))

	type sub struct{ Name string }
	s := confkit.Section[sub]{File: "sub.yaml"}
	require.NoError(t, s.Hydrate(dir, func(path string) (*sub, error) {
		return confkit.LoadFile[sub](path, false)
	}))
	require.NotNil(t, s.Value)
	require.Equal(t, "loaded", s.Value.Name)
	require.Equal(t, filepath.Join(dir, "sub.yaml"), s.File, "File is rewritten to the resolved path")
}

func TestLoadFile_MissingFileFails(t *testing.T) {
	type sub struct{ Name string }
	_, err := confkit.LoadFile[sub](filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.Error(t, err)
}

func TestMustProjectRoot_FindsGoMod(t *testing.T) {
	root := confkit.MustProjectRoot()
	_, err := os.Stat(filepath.Join(root, "go.mod"))
	require.NoError(t, err)
}
