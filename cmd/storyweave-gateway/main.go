// ABOUTME: Entry point for the storyweave-gateway conversation server
// ABOUTME: Commands: serve, init, health; wires store, channels, engine, HTTP

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/storyweave/storyweave-gateway/internal/agent"
	"github.com/storyweave/storyweave-gateway/internal/channel"
	"github.com/storyweave/storyweave-gateway/internal/config"
	"github.com/storyweave/storyweave-gateway/internal/dedupe"
	"github.com/storyweave/storyweave-gateway/internal/engine"
	"github.com/storyweave/storyweave-gateway/internal/gateway"
	"github.com/storyweave/storyweave-gateway/internal/manager"
	"github.com/storyweave/storyweave-gateway/internal/session"
	"github.com/storyweave/storyweave-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const shutdownTimeout = 10 * time.Second

const banner = `
      _
  ___| |_ ___  _ __ _   ___      _____  __ ___   _____
 / __| __/ _ \| '__| | | \ \ /\ / / _ \/ _' \ \ / / _ \
 \__ \ || (_) | |  | |_| |\ V  V /  __/ (_| |\ V /  __/
 |___/\__\___/|_|   \__, | \_/\_/ \___|\__,_| \_/ \___|
                    |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: STORYWEAVE_CONFIG env var > XDG_CONFIG_HOME/storyweave/gateway.yaml
// > ~/.config/storyweave/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("STORYWEAVE_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "storyweave", "gateway.yaml")
}

// getDataPath returns the path to the storyweave data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "storyweave")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: storyweave-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the conversation gateway server")
		fmt.Println("  init    Create a new config file interactively")
		fmt.Println("  health  Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting storyweave-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	eng := engine.New(registry, agent.NewScripted(logger), st, logger)

	mgr := manager.New(eng, registry, logger)
	if err := mgr.StartSweeper(cfg.Sessions.SweepSchedule, cfg.Sessions.IdleTTL); err != nil {
		return fmt.Errorf("starting idle sweeper: %w", err)
	}
	defer mgr.Stop()

	cache := dedupe.NewCache(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries, logger)
	defer cache.Close()

	gw := gateway.New(mgr, cache, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(cfg.Server.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return gw.Shutdown(shutdownCtx)
}

// loadConfig reads the config file, falling back to env-only defaults when
// the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// buildRegistry registers the four channel adapters, applying TOML capability
// overrides when configured.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*channel.Registry, error) {
	overrides := map[string]channel.CapabilityOverride{}
	if cfg.Channels.CapabilitiesPath != "" {
		var err error
		overrides, err = channel.LoadCapabilityOverrides(cfg.Channels.CapabilitiesPath)
		if err != nil {
			return nil, fmt.Errorf("loading capability overrides: %w", err)
		}
	}

	capsFor := func(tag string) (session.Capabilities, error) {
		caps := channel.DefaultCapabilities(tag)
		if o, ok := overrides[tag]; ok {
			return o.Apply(caps)
		}
		return caps, nil
	}

	registry := channel.NewRegistry(logger)
	for _, build := range []struct {
		tag string
		new func(session.Capabilities, *slog.Logger) channel.Adapter
	}{
		{channel.VoiceAssistant, func(c session.Capabilities, l *slog.Logger) channel.Adapter {
			return channel.NewVoiceAdapter(c, l)
		}},
		{channel.WebChat, func(c session.Capabilities, l *slog.Logger) channel.Adapter {
			return channel.NewWebChatAdapter(c, l)
		}},
		{channel.MobileVoice, func(c session.Capabilities, l *slog.Logger) channel.Adapter {
			return channel.NewMobileVoiceAdapter(c, l)
		}},
		{channel.DirectAPI, func(c session.Capabilities, l *slog.Logger) channel.Adapter {
			return channel.NewDirectAPIAdapter(c, l)
		}},
	} {
		caps, err := capsFor(build.tag)
		if err != nil {
			return nil, fmt.Errorf("capabilities for %s: %w", build.tag, err)
		}
		if err := registry.Register(build.new(caps, logger)); err != nil {
			return nil, fmt.Errorf("registering %s: %w", build.tag, err)
		}
	}
	return registry, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	addr := strings.TrimPrefix(cfg.Server.HTTPAddr, ":")
	if addr == cfg.Server.HTTPAddr {
		addr = cfg.Server.HTTPAddr
	} else {
		addr = "localhost:" + addr
	}

	url := fmt.Sprintf("http://%s/health", addr)
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

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("storyweave-gateway configuration setup")
	fmt.Println("======================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", ":8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Session Configuration ---")
	idleTTL := prompt(reader, "Idle session TTL", "30m")
	sweepSchedule := prompt(reader, "Idle sweep schedule", "@every 5m")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# storyweave-gateway configuration\n")
	cfg.WriteString("# Generated by storyweave-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString(fmt.Sprintf("  idle_ttl: \"%s\"\n", idleTTL))
	cfg.WriteString(fmt.Sprintf("  sweep_schedule: \"%s\"\n", sweepSchedule))
	cfg.WriteString("\n")

	cfg.WriteString("dedupe:\n")
	cfg.WriteString("  ttl: \"5m\"\n")
	cfg.WriteString("  max_entries: 10000\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  storyweave-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
