// ABOUTME: Entry point for asobi-gateway, the auth gateway in front of the Asobi backend
// ABOUTME: Subcommands: serve, health, init (write a config), token (mint local dev tokens)

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/asobi-gateway/internal/auth"
	"github.com/2389/asobi-gateway/internal/config"
	"github.com/2389/asobi-gateway/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
                 _     _
  __ _ ___  ___ | |__ (_)       __ _  __ _| |_ _____      ____ _ _   _
 / _' / __|/ _ \| '_ \| |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| \__ \ (_) | |_) | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|___/\___/|_.__/|_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                               |___/                             |___/
`

const defaultConfigFile = "asobi.yaml"

// resolveConfigPath picks the config file.
// Priority: --config flag > ASOBI_CONFIG env var > ./asobi.yaml if it exists.
// An empty result means no file; defaults and environment apply.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("ASOBI_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: asobi-gateway <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve    Start the gateway server")
	fmt.Fprintln(w, "  health   Check gateway health")
	fmt.Fprintln(w, "  init     Write a config file with generated secrets")
	fmt.Fprintln(w, "  token    Mint an HS256 identity or app check token for local testing")
	fmt.Fprintln(w, "  version  Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "health":
		err = runHealth(ctx, args, os.Stdout)
	case "init":
		err = runInit(args, os.Stdout)
	case "token":
		err = runToken(args, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, string, error) {
	configFlag := fs.String("config", "", "path to config file (YAML or TOML)")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	path := resolveConfigPath(*configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfg, configPath, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	if configPath == "" {
		configPath = "(none, defaults + environment)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("App Check: ")
	if cfg.Auth.RequireAppCheck {
		cyan.Println("enforced")
	} else {
		yellow.Println("disabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Admin:     ")
	if cfg.Tailscale.Enabled {
		cyan.Print("tailnet ")
		fmt.Println(cfg.Tailscale.Hostname)
	} else {
		fmt.Println("public listener")
	}
	fmt.Println()

	logger.Info("starting asobi-gateway",
		"version", version,
		"http_addr", cfg.Server.HTTPAddr,
		"db_driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// probeAddr turns a listen address into one a local client can dial.
func probeAddr(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	cfg, _, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	return checkHealth(ctx, "http://"+probeAddr(cfg.Server.HTTPAddr), out)
}

func checkHealth(ctx context.Context, baseURL string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// runInit writes a config with fresh secrets for the admin token and both
// token kinds. The format follows the file extension.
func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	outputFile := fs.String("config", defaultConfigFile, "config file to write (.yaml or .toml)")
	force := fs.Bool("force", false, "overwrite an existing file")
	dbPath := fs.String("db", filepath.Join("data", "asobi.db"), "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*outputFile); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *outputFile)
	}

	cfg := config.Default()
	cfg.Database.DSN = *dbPath
	for _, dst := range []*string{&cfg.Auth.AdminToken, &cfg.Auth.IDToken.Secret, &cfg.Auth.AppCheck.Secret} {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		*dst = secret
	}

	data, err := cfg.Marshal(*outputFile)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(*outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(*outputFile, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "Config written to %s\n", *outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintf(out, "  asobi-gateway serve --config %s\n", *outputFile)
	return nil
}

// Token kinds accepted by the token command.
const (
	tokenKindID       = "id"
	tokenKindAppCheck = "app-check"
)

// runToken prints a signed token using the HS256 secret from config.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	kind := fs.String("kind", tokenKindID, "token kind: id or app-check")
	sub := fs.String("sub", "", "subject (uid); defaults to a random id")
	email := fs.String("email", "", "email claim (id tokens)")
	role := fs.String("role", auth.RoleBetaUser, "role claim (id tokens)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	cfg, _, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	var vc config.VerifierConfig
	claims := map[string]any{"jti": uuid.New().String()}
	switch *kind {
	case tokenKindID:
		vc = cfg.Auth.IDToken
		if *email != "" {
			claims["email"] = *email
		}
		if *role != "" {
			claims["role"] = *role
		}
	case tokenKindAppCheck:
		vc = cfg.Auth.AppCheck
	default:
		return fmt.Errorf("unknown token kind %q (want %s or %s)", *kind, tokenKindID, tokenKindAppCheck)
	}

	if vc.Secret == "" {
		return errors.New("token minting needs a shared secret for this token kind")
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	subject := *sub
	if subject == "" {
		subject = uuid.New().String()
	}
	claims["sub"] = subject
	if vc.Issuer != "" {
		claims["iss"] = vc.Issuer
	}
	if vc.Audience != "" {
		claims["aud"] = vc.Audience
	}

	signer, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: []byte(vc.Secret)})
	if err != nil {
		return fmt.Errorf("creating signer: %w", err)
	}
	token, err := signer.Generate(claims, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
