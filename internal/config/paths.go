package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Trust-state file names inside the app-support directory. These are part
// of the on-disk contract with the desktop launcher and the activation
// tooling; renaming either orphans existing installs.
const (
	// LicenseFileName is the license document written by activation.
	LicenseFileName = "client.lic"
	// TokenFileName is the persisted API bearer token.
	TokenFileName = "auth_token.json"
)

// AppSupportDir returns the per-user directory holding this application's
// trust-state files: ~/Library/Application Support/<app> on macOS,
// %APPDATA%\<vendor>\<app> on Windows, ~/.<app> (lowercased) elsewhere.
// The directory is not created here.
func AppSupportDir(vendor, app string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", app), nil
	case "windows":
		if base := os.Getenv("APPDATA"); base != "" {
			return filepath.Join(base, vendor, app), nil
		}
		return filepath.Join(home, "AppData", "Roaming", vendor, app), nil
	default:
		return filepath.Join(home, "."+strings.ToLower(app)), nil
	}
}

// SupportDir resolves the app-support directory for this configuration,
// honoring the LONGQ_LICENSE_DIR override.
func (c *Config) SupportDir() (string, error) {
	if c.License.Dir != "" {
		return c.License.Dir, nil
	}
	return AppSupportDir(c.License.Vendor, c.License.AppName)
}

// LicenseFilePath resolves the license file location: the LONGQ_LICENSE_PATH
// override when set, otherwise LicenseFileName inside the support dir.
func (c *Config) LicenseFilePath() (string, error) {
	if c.License.Path != "" {
		return c.License.Path, nil
	}
	dir, err := c.SupportDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LicenseFileName), nil
}

// TokenFilePath resolves the token file location: the configured override
// when set, otherwise TokenFileName inside the support dir.
func (c *Config) TokenFilePath() (string, error) {
	if c.Token.Path != "" {
		return c.Token.Path, nil
	}
	dir, err := c.SupportDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, TokenFileName), nil
}

// EnsureSupportDir creates the support directory if needed and tightens its
// permissions. Trust-state files are per-user secrets, hence 0700; the chmod
// is best-effort since Windows ignores POSIX modes.
func (c *Config) EnsureSupportDir() (string, error) {
	dir, err := c.SupportDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if runtime.GOOS != "windows" {
		_ = os.Chmod(dir, 0o700)
	}
	return dir, nil
}
