// ABOUTME: Entry point for the toolgate server and its command-line client
// ABOUTME: Subcommands: serve, health, tools, call, token, version

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/client"
	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/gateway"
	"github.com/2389/toolgate/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _              _             _
 | |_ ___   ___ | | __ _  __ _| |_ ___
 | __/ _ \ / _ \| |/ _' |/ _' | __/ _ \
 | || (_) | (_) | | (_| | (_| | ||  __/
  \__\___/ \___/|_|\__, |\__,_|\__\___|
                   |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: TOOLGATE_CONFIG env var > XDG_CONFIG_HOME/toolgate/gateway.yaml > ~/.config/toolgate/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolgate", "gateway.yaml")
}

// loadConfig loads the config at path, falling back to defaults when the
// file does not exist.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), false, nil
	}
	return nil, false, fmt.Errorf("loading config: %w", err)
}

func usage() {
	fmt.Println("Usage: toolgate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                    Start the gateway server")
	fmt.Println("  health                   Check gateway health")
	fmt.Println("  tools                    List registered tools")
	fmt.Println("  call <name> [json]       Invoke a tool and print the result")
	fmt.Println("  token --subject NAME     Issue a bearer token signed with auth.jwt_secret")
	fmt.Println("  version                  Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "tools":
		err = runTools(ctx)
	case "call":
		err = runCall(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, found, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s", configPath)
	if !found {
		yellow.Print(" (not found, using defaults)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("WebSocket: ws://%s%s\n", cfg.Server.HTTPAddr, cfg.Server.WSPath)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   http://%s%s\n", cfg.Server.HTTPAddr, cfg.Metrics.Path)
	}
	if cfg.Ledger.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:    %s\n", cfg.Ledger.Path)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("Auth:      disabled")
	} else if !cfg.Auth.RequireAuth {
		yellow.Print("    ! ")
		fmt.Println("Auth:      optional")
	}

	fmt.Println()

	logger.Info("starting toolgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"server_id", cfg.Server.ServerID,
	)

	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer gw.Close()

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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

	var health gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	color.Green("healthy")
	fmt.Printf("  server:      %s (%s)\n", health.ServerID, health.Version)
	fmt.Printf("  connections: %d\n", health.Connections)
	fmt.Printf("  tools:       %d\n", health.Tools)
	return nil
}

// dialGateway connects to the configured WebSocket endpoint. The bearer
// token is read from TOOLGATE_TOKEN.
func dialGateway(ctx context.Context) (*client.Client, error) {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("ws://%s%s", cfg.Server.HTTPAddr, cfg.Server.WSPath)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.Dial(dialCtx, url, client.Options{
		Token:  os.Getenv("TOOLGATE_TOKEN"),
		Logger: setupLogger(config.LoggingConfig{Level: "error"}),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	return c, nil
}

func runTools(ctx context.Context) error {
	c, err := dialGateway(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Call(ctx, gateway.MethodToolsList, nil)
	if err != nil {
		return err
	}
	var out struct {
		Tools []tools.Info `json:"tools"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return fmt.Errorf("decoding tools/list: %w", err)
	}

	cyan := color.New(color.FgCyan)
	for _, info := range out.Tools {
		cyan.Printf("%-20s", info.Name)
		fmt.Printf(" %s\n", info.Description)
	}
	return nil
}

func runCall(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: toolgate call <name> [json]")
	}
	name := args[0]

	var params json.RawMessage
	if len(args) == 2 {
		params = json.RawMessage(args[1])
		if !json.Valid(params) {
			return fmt.Errorf("arguments are not valid JSON")
		}
	}

	c, err := dialGateway(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Call(ctx, name, params)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func printJSON(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runToken(args []string) error {
	// Supports both "--subject value" and "--subject=value" formats
	var subject string
	ttl := 24 * time.Hour
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
