// lictool is the operator CLI for the QuantumQi trust layer: signing-key
// generation, allowlist management, machine fingerprinting, offline license
// verification and API token rotation against a running daemon.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"quantumlic/internal/config"
	"quantumlic/internal/fingerprint"
	"quantumlic/internal/issuance"
	"quantumlic/internal/signing"
	"quantumlic/internal/store"
	"quantumlic/internal/verifier"
	"quantumlic/pkg/contracts"
	"quantumlic/pkg/contracts/domain"
)

const usage = `Usage: lictool <command> [flags]

Commands:
  keygen        generate an Ed25519 signing keypair and write the encrypted keystore
  allowlist     manage issuance allowlist entries (put | load)
  fingerprint   print this machine's fingerprint
  verify        verify a license file offline and print its status
  token         manage the daemon's API token (rotate | renew | status)
  version       print build version information

Run "lictool <command> -h" for command flags.`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "keygen":
		err = cmdKeygen(os.Args[2:])
	case "allowlist":
		err = cmdAllowlist(ctx, os.Args[2:])
	case "fingerprint":
		err = cmdFingerprint(ctx, logger)
	case "verify":
		err = cmdVerify(ctx, os.Args[2:], logger)
	case "token":
		err = cmdToken(ctx, os.Args[2:])
	case "version":
		fmt.Println(contracts.GetVersionInfo())
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cmdKeygen generates a keypair, writes the encrypted keystore and prints the
// public key. The private key exists only inside the keystore file.
func cmdKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "signing_key.enc", "keystore output path")
	keyVersion := fs.Int("key-version", 1, "key version stamped on issued licenses")
	passphraseEnv := fs.String("passphrase-env", "LONGQ_KEYSTORE_PASSPHRASE", "env var holding the keystore passphrase")
	fs.Parse(args)

	passphrase := os.Getenv(*passphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("passphrase env var %s is empty; refusing to write an unprotected keystore", *passphraseEnv)
	}

	pub, priv, err := signing.GenerateKeypair()
	if err != nil {
		return err
	}
	if err := signing.SaveSigningKey(*out, priv, *keyVersion, []byte(passphrase)); err != nil {
		return err
	}

	fmt.Printf("keystore written: %s\n", *out)
	fmt.Printf("key version:     %d\n", *keyVersion)
	fmt.Printf("public key hex:  %s\n", hex.EncodeToString(pub))
	fmt.Println("\nDistribute the public key to clients via LONGQ_PUBLIC_KEY_HEX or signing.public_keys config.")
	return nil
}

// allowlistFile is the YAML shape accepted by "allowlist load".
type allowlistFile []struct {
	Email    string `yaml:"email"`
	MaxSeats int    `yaml:"max_seats"`
}

// cmdAllowlist writes allowlist entries to the issuance store. Entries are
// keyed by identity hash; the email itself is never stored.
func cmdAllowlist(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lictool allowlist <put|load> [flags]")
	}
	verb, args := args[0], args[1:]

	switch verb {
	case "put":
		fs := flag.NewFlagSet("allowlist put", flag.ExitOnError)
		email := fs.String("email", "", "identity email (hashed before storage)")
		maxSeats := fs.Int("max-seats", 1, "distinct machines this identity may license")
		fs.Parse(args)
		if *email == "" {
			return fmt.Errorf("-email is required")
		}
		if *maxSeats < 1 {
			return fmt.Errorf("-max-seats must be at least 1")
		}

		stores, closeKV, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer closeKV()

		entry := &domain.AllowlistEntry{
			IdentityHash: issuance.IdentityHash(*email),
			MaxSeats:     *maxSeats,
		}
		if err := stores.Allowlist.Put(ctx, entry); err != nil {
			return err
		}
		fmt.Printf("allowlisted %s (max_seats=%d)\n", entry.IdentityHash, entry.MaxSeats)
		return nil

	case "load":
		fs := flag.NewFlagSet("allowlist load", flag.ExitOnError)
		file := fs.String("file", "allowlist.yaml", "YAML file of {email, max_seats} entries")
		fs.Parse(args)

		raw, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		var entries allowlistFile
		if err := yaml.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("invalid allowlist file %s: %w", *file, err)
		}

		stores, closeKV, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer closeKV()

		for n, e := range entries {
			if e.Email == "" || e.MaxSeats < 1 {
				return fmt.Errorf("entry %d: email and max_seats >= 1 are required", n+1)
			}
			entry := &domain.AllowlistEntry{
				IdentityHash: issuance.IdentityHash(e.Email),
				MaxSeats:     e.MaxSeats,
			}
			if err := stores.Allowlist.Put(ctx, entry); err != nil {
				return fmt.Errorf("entry %d: %w", n+1, err)
			}
		}
		fmt.Printf("loaded %d allowlist entries from %s\n", len(entries), *file)
		return nil

	default:
		return fmt.Errorf("unknown allowlist verb %q (want put or load)", verb)
	}
}

// openStores connects the configured KV backend. Only redis makes sense from
// an operator tool; the memory backend would discard every write on exit.
func openStores(ctx context.Context) (*store.Stores, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Backend != config.BackendRedis {
		return nil, nil, fmt.Errorf("allowlist management requires store.backend=redis, got %q", cfg.Store.Backend)
	}
	kv, err := store.NewRedisKV(ctx, store.RedisOptions{
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return store.NewStores(kv), func() { _ = kv.Close() }, nil
}

// cmdFingerprint prints the fingerprint the verifier would bind a license to
// on this machine.
func cmdFingerprint(ctx context.Context, logger *slog.Logger) error {
	fp, err := fingerprint.NewGenerator(logger).Fingerprint(ctx)
	if err != nil {
		return err
	}
	fmt.Println(fp)
	return nil
}

// cmdVerify runs the offline verifier against a license file and prints the
// result. Exit status 0 means valid.
func cmdVerify(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	file := fs.String("file", "", "license file path (defaults to the configured location)")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := *file
	if path == "" {
		path, err = cfg.LicenseFilePath()
		if err != nil {
			return err
		}
	}

	keys := signing.DefaultPublicKeys()
	if len(cfg.Signing.PublicKeys) > 0 {
		configured, err := signing.PublicKeysFromHex(cfg.Signing.PublicKeys)
		if err != nil {
			return err
		}
		for version, key := range configured {
			keys[version] = key
		}
	}
	sigVerifier, err := signing.NewVerifier(keys)
	if err != nil {
		return err
	}

	gen := fingerprint.NewGenerator(logger)
	status := verifier.New(sigVerifier, gen, cfg.License.Product, logger).VerifyFile(ctx, path)

	fmt.Printf("file:   %s\n", path)
	fmt.Printf("state:  %s\n", status.State)
	if status.Reason != "" {
		fmt.Printf("reason: %s\n", status.Reason)
	}
	if status.Detail != "" {
		fmt.Printf("detail: %s\n", status.Detail)
	}
	if status.State != domain.LicenseStateValid {
		os.Exit(1)
	}
	return nil
}

// tokenFile mirrors the daemon's persisted token document.
type tokenFile struct {
	Token string `json:"token"`
}

// cmdToken drives the daemon's token endpoints over HTTP, authenticating
// with the persisted token.
func cmdToken(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lictool token <rotate|renew|status> [flags]")
	}
	verb, args := args[0], args[1:]

	fs := flag.NewFlagSet("token "+verb, flag.ExitOnError)
	grace := fs.Float64("grace", 60, "seconds the outgoing token stays valid")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tokenPath, err := cfg.TokenFilePath()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(tokenPath)
	if err != nil {
		return fmt.Errorf("cannot read token file %s (is quantumd initialized?): %w", tokenPath, err)
	}
	var tf tokenFile
	if err := json.Unmarshal(raw, &tf); err != nil || tf.Token == "" {
		return fmt.Errorf("token file %s is corrupt", tokenPath)
	}

	base := "http://" + cfg.Server.Addr()
	client := &http.Client{Timeout: 10 * time.Second}

	call := func(method, path string, body any) (map[string]any, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tf.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		var decoded map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("%s %s: status %d with unreadable body", method, path, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s %s: status %d: %v", method, path, resp.StatusCode, decoded["error"])
		}
		return decoded, nil
	}

	switch verb {
	case "rotate":
		resp, err := call(http.MethodPost, "/api/auth/token/rotate", map[string]any{"grace_seconds": *grace})
		if err != nil {
			return err
		}
		fmt.Printf("rotated: prefix=%v grace_seconds=%v persisted=%v\n",
			resp["token_prefix"], resp["grace_seconds"], resp["persisted"])
		return nil
	case "renew":
		resp, err := call(http.MethodPost, "/api/auth/token/renew", map[string]any{"grace_seconds": *grace})
		if err != nil {
			return err
		}
		// The new token is the caller's credential from now on; stdout is
		// the only place it appears.
		fmt.Printf("%v\n", resp["token"])
		return nil
	case "status":
		resp, err := call(http.MethodGet, "/api/auth/token/status", nil)
		if err != nil {
			return err
		}
		fmt.Printf("prefix=%v in_grace=%v grace_remaining_seconds=%v\n",
			resp["token_prefix"], resp["in_grace"], resp["grace_remaining_seconds"])
		return nil
	default:
		return fmt.Errorf("unknown token verb %q (want rotate, renew or status)", verb)
	}
}
