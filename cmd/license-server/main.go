// license-server is the issuance service: it checks identities against the
// allowlist, enforces seat caps and returns Ed25519-signed license files over
// POST /issue.
package main

import (
	"log/slog"
	"os"

	"quantumlic/internal/app"
)

func main() {
	issuer, err := app.NewIssuer()
	if err != nil {
		slog.Error("failed to initialize license-server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := issuer.Run(); err != nil {
		slog.Error("license-server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
