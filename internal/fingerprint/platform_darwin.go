//go:build darwin

package fingerprint

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const queryTimeout = 5 * time.Second

// darwinIdentity reads machine identity from IOKit and sysctl, the same
// sources Apple's own "About This Mac" uses.
type darwinIdentity struct{}

func newPlatformIdentity() PlatformIdentity {
	return darwinIdentity{}
}

func (darwinIdentity) PlatformUUID(ctx context.Context) (string, error) {
	out, err := runCommand(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
	if err != nil {
		return "", err
	}
	// ioreg prints one quoted key-value pair per line:
	//   "IOPlatformUUID" = "8C3F9A2E-...."
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		uuid := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		if uuid != "" {
			return uuid, nil
		}
	}
	return "", fmt.Errorf("IOPlatformUUID not present in ioreg output")
}

func (darwinIdentity) CPUModel(ctx context.Context) (string, error) {
	out, err := runCommand(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (darwinIdentity) Hostname() (string, error) {
	// ComputerName is the user-visible machine name and what the issuance
	// records have historically been bound to; fall back to the kernel
	// hostname when scutil is unavailable.
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if out, err := runCommand(ctx, "scutil", "--get", "ComputerName"); err == nil {
		if name := strings.TrimSpace(out); name != "" {
			return name, nil
		}
	}
	return os.Hostname()
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return string(out), nil
}
