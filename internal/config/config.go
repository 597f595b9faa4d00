// Package config provides daemon configuration with support for command-line flags,
// environment variables, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/listenupapp/geomwatch/internal/validation"
)

// GeometrySuffix is appended to a document's stem to name the watched file.
const GeometrySuffix = "_geometry.py"

// Config holds the application configuration.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Watch  WatchConfig
	Exec   ExecConfig
	Server ServerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// WatchConfig holds the file watching configuration.
type WatchConfig struct {
	// DocumentPath is the host document; the watched file is derived from it when Path is empty.
	DocumentPath string `env:"DOCUMENT_PATH"`
	// Path is the absolute path of the watched file.
	Path         string        `env:"WATCH_PATH" validate:"required"`
	Backend      string        `env:"WATCH_BACKEND" validate:"oneof=auto inotify fsnotify poll"`
	PollInterval time.Duration `env:"POLL_INTERVAL" validate:"gt=0"`
	Debounce     time.Duration `env:"DEBOUNCE" validate:"gte=0"`
}

// ExecConfig holds the configuration of the command host that applies the watched file.
type ExecConfig struct {
	Interpreter  string        `env:"INTERPRETER" validate:"required"`
	Args         []string      `env:"INTERPRETER_ARGS"`
	Timeout      time.Duration `env:"EXEC_TIMEOUT" validate:"gt=0"`
	BindingsFile string        `env:"BINDINGS_FILE"`
	// Bindings are loaded from BindingsFile and merged into every namespace.
	Bindings map[string]any `env:"-"`
	// ModuleFiles are YAML files bound under their base name, re-read on every
	// reload. A file that cannot be read is left out of that namespace.
	ModuleFiles []string `env:"EXEC_MODULES"`
}

// ServerConfig holds control API configuration.
type ServerConfig struct {
	Enabled      bool
	Port         string        `env:"SERVER_PORT" validate:"required,numeric"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" validate:"gte=0"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" validate:"gt=0"`
	// ReloadRate is the number of manual reloads per second the API accepts.
	ReloadRate  float64 `env:"RELOAD_RATE" validate:"gt=0"`
	ReloadBurst int     `env:"RELOAD_BURST" validate:"gt=0"`
	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string `env:"CORS_ORIGINS"`
}

// LoadConfig loads configuration from os.Args.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("geomwatch", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")

	documentPath := fs.String("document", "", "Host document path; the watched file is <stem>"+GeometrySuffix)
	watchPath := fs.String("watch", "", "Path of the file to watch (overrides -document)")
	backend := fs.String("backend", "", "Change source: auto, inotify, fsnotify or poll (default: auto)")
	pollInterval := fs.String("poll-interval", "", "Polling period (default: 1s)")
	debounce := fs.String("debounce", "", "Minimum interval between accepted changes (default: 1s)")

	interpreter := fs.String("interpreter", "", "Interpreter that applies the watched file (default: python3)")
	interpreterArgs := fs.String("interpreter-args", "", "Arguments passed to the interpreter (default: -)")
	execTimeout := fs.String("exec-timeout", "", "Maximum duration of one execution (default: 60s)")
	bindingsFile := fs.String("bindings", "", "YAML file with extra namespace bindings")
	moduleFiles := fs.String("modules", "", "Comma-separated YAML files bound as optional modules")

	serverEnabled := fs.String("server", "", "Serve the control API (default: true)")
	serverPort := fs.String("port", "", "Control API port (default: 8765)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Missing .env files are fine.
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Watch: WatchConfig{
			DocumentPath: getConfigValue(*documentPath, "DOCUMENT_PATH", ""),
			Path:         getConfigValue(*watchPath, "WATCH_PATH", ""),
			Backend:      getConfigValue(*backend, "WATCH_BACKEND", "auto"),
		},
		Exec: ExecConfig{
			Interpreter:  getConfigValue(*interpreter, "INTERPRETER", "python3"),
			Args:         strings.Fields(getConfigValue(*interpreterArgs, "INTERPRETER_ARGS", "-")),
			BindingsFile: getConfigValue(*bindingsFile, "BINDINGS_FILE", ""),
			ModuleFiles:  splitList(getConfigValue(*moduleFiles, "EXEC_MODULES", "")),
		},
		Server: ServerConfig{
			Enabled:     getBoolConfigValue(*serverEnabled, "SERVER_ENABLED", true),
			Port:        getConfigValue(*serverPort, "SERVER_PORT", "8765"),
			ReloadRate:  getFloatConfigValue("", "RELOAD_RATE", 2),
			ReloadBurst: getIntConfigValue("", "RELOAD_BURST", 4),
			CORSOrigins: strings.Split(getConfigValue("", "CORS_ORIGINS", "*"), ","),
		},
	}

	durations := []struct {
		target   *time.Duration
		flag     string
		envKey   string
		fallback string
	}{
		{&cfg.Watch.PollInterval, *pollInterval, "POLL_INTERVAL", "1s"},
		{&cfg.Watch.Debounce, *debounce, "DEBOUNCE", "1s"},
		{&cfg.Exec.Timeout, *execTimeout, "EXEC_TIMEOUT", "60s"},
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, "", "SERVER_WRITE_TIMEOUT", "0s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.target = parsed
	}

	if err := cfg.expandWatchPath(); err != nil {
		return nil, fmt.Errorf("invalid watch path: %w", err)
	}

	if cfg.Exec.BindingsFile != "" {
		bindings, err := LoadBindings(cfg.Exec.BindingsFile)
		if err != nil {
			return nil, err
		}
		cfg.Exec.Bindings = bindings
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %q (must be debug, info, warn, or error)", c.Logger.Level)
	}

	v := validation.New()
	if err := v.Validate(c.Watch); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := v.Validate(c.Exec); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if c.Server.Enabled {
		if err := v.Validate(c.Server); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	return nil
}

// DeriveWatchPath returns the geometry file that belongs to a host document:
// /models/bracket.FCStd -> /models/bracket_geometry.py.
func DeriveWatchPath(documentPath string) string {
	dir := filepath.Dir(documentPath)
	base := filepath.Base(documentPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+GeometrySuffix)
}

// expandWatchPath fills Path from DocumentPath when needed and makes it absolute.
func (c *Config) expandWatchPath() error {
	path := c.Watch.Path
	if path == "" && c.Watch.DocumentPath != "" {
		document, err := expandPath(c.Watch.DocumentPath)
		if err != nil {
			return err
		}
		c.Watch.DocumentPath = document
		path = DeriveWatchPath(document)
	}
	if path == "" {
		return nil
	}

	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	c.Watch.Path = expanded
	return nil
}

// expandPath expands ~ and makes the path absolute.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadBindings reads a YAML mapping of extra namespace bindings.
func LoadBindings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- bindings file path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read bindings file: %w", err)
	}

	var bindings map[string]any
	if err := yaml.Unmarshal(data, &bindings); err != nil {
		return nil, fmt.Errorf("parse bindings file %s: %w", path, err)
	}
	if bindings == nil {
		return nil, errors.New("bindings file must contain a mapping")
	}
	return bindings, nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue accepts "true", "1", "yes" (case-insensitive) as true.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
