package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Addr          string
	AuthSecret    string
	StateDir      string
	LogLevel      string
	LogFormat     string
	UseUTC        bool
	ShutdownGrace time.Duration
	Mode          string

	DiscordToken   string
	DiscordAPIBase string
	DryRun         bool

	RotateMaxAgeDays int
}

const (
	defaultAddr          = "0.0.0.0:8080"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultMode          = "http"
	defaultRotateMaxAge  = 30
	defaultShutdownGrace = 5 * time.Second
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	// Load .env file if exists (silent fail if not present)
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "reminderd", ".env"))
	}
	_ = godotenv.Load(envFiles...) // Ignore error - file is optional

	cfg := &Config{
		Addr:             getEnvString("REMINDERD_ADDR", defaultAddr),
		AuthSecret:       getEnvString("REMINDERD_AUTH_SECRET", ""),
		StateDir:         getEnvString("REMINDERD_STATE_DIR", ""),
		LogLevel:         getEnvString("REMINDERD_LOG_LEVEL", defaultLogLevel),
		LogFormat:        getEnvString("REMINDERD_LOG_FORMAT", defaultLogFormat),
		UseUTC:           getEnvBool("REMINDERD_USE_UTC", false),
		ShutdownGrace:    getEnvDuration("REMINDERD_SHUTDOWN_GRACE", defaultShutdownGrace),
		Mode:             getEnvString("REMINDERD_MODE", defaultMode),
		DiscordToken:     getEnvString("REMINDERD_DISCORD_TOKEN", ""),
		DiscordAPIBase:   getEnvString("REMINDERD_DISCORD_API_BASE", ""),
		DryRun:           getEnvBool("REMINDERD_DRY_RUN", false),
		RotateMaxAgeDays: getEnvInt("REMINDERD_ROTATE_MAX_AGE_DAYS", defaultRotateMaxAge),
	}

	var (
		addr          string
		stateDir      string
		logLevel      string
		mode          string
		useUTC        bool
		dryRun        bool
		shutdownGrace time.Duration
		rotateMaxAge  int
	)
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&mode, "mode", "", "Run mode: http, mcp or both")
	flag.BoolVar(&useUTC, "use-utc", false, "Use UTC for schedule evaluation instead of system local time")
	flag.BoolVar(&dryRun, "dry-run", false, "Accept deliveries without calling the chat platform")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	flag.IntVar(&rotateMaxAge, "rotate-max-age", 0, "Default log retention in days for rotation")

	flag.Parse()

	if addr != "" {
		cfg.Addr = addr
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if rotateMaxAge > 0 {
		cfg.RotateMaxAgeDays = rotateMaxAge
	}
	// For bool flags, check if explicitly set via flag.Visit
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "dry-run":
			cfg.DryRun = dryRun
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.RotateMaxAgeDays < 1 {
		cfg.RotateMaxAgeDays = defaultRotateMaxAge
	}

	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "reminderd")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
