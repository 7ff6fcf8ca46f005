package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".btfdump.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: c
lenient: true
filters:
  uapi:
    names: ["sock", "iphdr"]
    kinds: ["STRUCT"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "c", cfg.Mode)
	require.True(t, cfg.Lenient)
	require.Equal(t, uint32(8), cfg.PointerSize) // untouched default survives the merge
	require.Equal(t, []string{"sock", "iphdr"}, cfg.Filters["uapi"].Names)
	require.Equal(t, []string{"STRUCT"}, cfg.Filters["uapi"].Kinds)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".btfdump.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: [c\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
