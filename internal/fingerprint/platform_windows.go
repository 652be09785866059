//go:build windows

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

// windowsIdentity reads machine identity from the registry via reg.exe, which
// keeps the package free of cgo and syscall wrappers.
type windowsIdentity struct{}

func newPlatformIdentity() PlatformIdentity {
	return windowsIdentity{}
}

func (windowsIdentity) PlatformUUID(ctx context.Context) (string, error) {
	return regQuery(ctx, `HKLM\SOFTWARE\Microsoft\Cryptography`, "MachineGuid")
}

func (windowsIdentity) CPUModel(ctx context.Context) (string, error) {
	return regQuery(ctx, `HKLM\HARDWARE\DESCRIPTION\System\CentralProcessor\0`, "ProcessorNameString")
}

func (windowsIdentity) Hostname() (string, error) {
	if name := strings.TrimSpace(os.Getenv("COMPUTERNAME")); name != "" {
		return name, nil
	}
	return os.Hostname()
}

// regQuery runs `reg query <key> /v <value>` and extracts the data column.
// Output format (header line, then):
//
//	    <value>    REG_SZ    <data>
func regQuery(ctx context.Context, key, value string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "reg", "query", key, "/v", value).Output()
	if err != nil {
		return "", fmt.Errorf("reg query %s: %w", value, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, value) {
			continue
		}
		fields := strings.Fields(line)
		// value name, type, then data which may itself contain spaces
		if len(fields) >= 3 {
			return strings.Join(fields[2:], " "), nil
		}
	}
	return "", fmt.Errorf("reg query %s: value not present in output", value)
}
