// quantumd is the client-side daemon: it verifies the machine's license
// offline, guards the local API with a rotating bearer token and pushes
// license state events to subscribers over WebSocket.
package main

import (
	"log/slog"
	"os"

	"quantumlic/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("failed to initialize quantumd", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("quantumd exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
