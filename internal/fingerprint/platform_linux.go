//go:build linux

package fingerprint

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// linuxIdentity reads machine identity from the standard kernel and systemd
// surfaces; no subprocesses are needed on Linux.
type linuxIdentity struct{}

func newPlatformIdentity() PlatformIdentity {
	return linuxIdentity{}
}

func (linuxIdentity) PlatformUUID(ctx context.Context) (string, error) {
	for _, path := range []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no machine id available")
}

func (linuxIdentity) CPUModel(ctx context.Context) (string, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "", fmt.Errorf("read cpuinfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "model name") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			if model := strings.TrimSpace(parts[1]); model != "" {
				return model, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read cpuinfo: %w", err)
	}
	return "", fmt.Errorf("model name not present in cpuinfo")
}

func (linuxIdentity) Hostname() (string, error) {
	return os.Hostname()
}
