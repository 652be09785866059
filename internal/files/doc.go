// Package files implements atomic file persistence for the trust-state
// files this system writes: the license document and the API token file.
// Writers produce a temp file in the target directory and rename it into
// place, so a crash mid-write can never leave a reader with half a file.
package files
