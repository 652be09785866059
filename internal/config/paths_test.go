package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppSupportDir(t *testing.T) {
	dir, err := AppSupportDir(DefaultVendor, DefaultAppName)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(dir))

	switch runtime.GOOS {
	case "darwin":
		assert.Contains(t, dir, filepath.Join("Library", "Application Support", "QuantumQi"))
	case "windows":
		assert.Contains(t, dir, filepath.Join("LongQ", "QuantumQi"))
	default:
		assert.Equal(t, ".quantumqi", filepath.Base(dir))
	}
}

func TestSupportDirOverride(t *testing.T) {
	cfg := Default()
	cfg.License.Dir = "/opt/quantumqi"

	dir, err := cfg.SupportDir()
	require.NoError(t, err)
	assert.Equal(t, "/opt/quantumqi", dir)
}

func TestLicenseFilePath(t *testing.T) {
	cfg := Default()

	path, err := cfg.LicenseFilePath()
	require.NoError(t, err)
	assert.Equal(t, LicenseFileName, filepath.Base(path))
	assert.True(t, filepath.IsAbs(path))

	cfg.License.Path = "/tmp/elsewhere/my.lic"
	path, err = cfg.LicenseFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere/my.lic", path)
}

func TestTokenFilePath(t *testing.T) {
	cfg := Default()

	path, err := cfg.TokenFilePath()
	require.NoError(t, err)
	assert.Equal(t, TokenFileName, filepath.Base(path))

	cfg.Token.Path = "/tmp/elsewhere/token.json"
	path, err = cfg.TokenFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere/token.json", path)
}

func TestEnsureSupportDir(t *testing.T) {
	cfg := Default()
	cfg.License.Dir = filepath.Join(t.TempDir(), "nested", "support")

	dir, err := cfg.EnsureSupportDir()
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	}

	// Idempotent.
	_, err = cfg.EnsureSupportDir()
	assert.NoError(t, err)
}
