package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layerkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0666))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  dir: /var/lib/layerkv
  memtable_bytes: 1048576
  compression: true
compaction:
  split_ratio_num: 3
  split_ratio_den: 2
logger:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/layerkv", cfg.Storage.Dir)
	assert.Equal(t, int64(1<<20), cfg.Storage.MemtableBytes)
	assert.True(t, cfg.Storage.Compression)
	assert.Equal(t, int64(3), cfg.Compaction.SplitRatioNum)
	assert.Equal(t, int64(2), cfg.Compaction.SplitRatioDen)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched fields keep their defaults.
	assert.Equal(t, 4<<10, cfg.Storage.BlockSizeBytes)
	assert.Equal(t, 1024, cfg.Storage.BlockCacheSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadRatio(t *testing.T) {
	path := writeConfig(t, `
compaction:
  split_ratio_num: 0
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestOptionsMapping(t *testing.T) {
	cfg := Default()
	cfg.Storage.Dir = "/data"
	cfg.Storage.MemtableBytes = 123
	opt := cfg.Options()
	assert.Equal(t, "/data", opt.WorkDir)
	assert.Equal(t, int64(123), opt.MemTableSize)
	assert.Equal(t, cfg.Storage.BlockSizeBytes, opt.BlockSize)
	assert.Equal(t, cfg.Compaction.SplitRatioNum, opt.SplitRatioNum)
	assert.NotNil(t, opt.Comparable)
}

func TestLogger(t *testing.T) {
	cfg := Default()
	lg, err := cfg.Logger()
	require.NoError(t, err)
	lg.Sync()

	cfg.Logging.Level = "nope"
	_, err = cfg.Logger()
	assert.Error(t, err)
}
