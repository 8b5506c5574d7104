package core

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/keyring"
)

const (
	BaseDirName    = ".mc"
	ConfigFileName = "config.hcl"
	DataDirName    = "data"
	LogDirName     = "logs"
	DatabaseName   = "mclaw.db"

	// DatabaseURLEnv overrides the configured database URL.
	DatabaseURLEnv = "MC_DATABASE_URL"
	// PortEnv carries the listen port into a spawned service.
	PortEnv = "MC_PORT"
	// APIPortEnv tells the viewer where the daemon API listens.
	APIPortEnv = "MC_API_PORT"
)

// DatabaseURLSource names where a resolved database URL came from.
type DatabaseURLSource string

const (
	SourceFlag    DatabaseURLSource = "flag"
	SourceEnv     DatabaseURLSource = "env"
	SourceKeyring DatabaseURLSource = "keyring"
	SourceConfig  DatabaseURLSource = "config"
	SourceDefault DatabaseURLSource = "default"
)

// InitializeConfig loads config.hcl from the --config-path directory and
// applies the global flags on top of it.
func InitializeConfig(cmd *cobra.Command) ([]string, error) {
	var messages []string

	configPath, err := cmd.Flags().GetString("config-path")
	if err != nil || configPath == "" {
		home, _ := os.UserHomeDir()
		configPath = filepath.Join(home, BaseDirName)
	}

	configFile := filepath.Join(configPath, ConfigFileName)
	if ConfigExists(configFile) {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return messages, err
		}
		Config = cfg
	} else {
		Config = GetDefaultConfig()
	}
	Config.ConfigPath = configPath

	if verbose, err := cmd.Flags().GetCount("verbose"); err == nil && cmd.Flags().Changed("verbose") {
		Config.Verbose = verbose
	}

	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return messages, fmt.Errorf("failed to create config directory: %w", err)
	}

	return messages, nil
}

// ConfigFilePath returns the location of config.hcl.
func (c *Configuration) ConfigFilePath() string {
	return filepath.Join(c.ConfigPath, ConfigFileName)
}

// LogFilePath returns the log file a spawned service writes to.
func (c *Configuration) LogFilePath(service string) string {
	return filepath.Join(c.ConfigPath, LogDirName, service+".log")
}

// DefaultDatabaseURL is the sqlite file used when nothing else is configured.
func (c *Configuration) DefaultDatabaseURL() string {
	return "file:" + filepath.Join(c.ConfigPath, DataDirName, DatabaseName)
}

// ResolveDatabaseURL picks the database URL by priority:
// flag, MC_DATABASE_URL, keyring, config file, default sqlite file.
func (c *Configuration) ResolveDatabaseURL(flagValue string) (string, DatabaseURLSource) {
	if flagValue = strings.TrimSpace(flagValue); flagValue != "" {
		return flagValue, SourceFlag
	}
	if v := strings.TrimSpace(os.Getenv(DatabaseURLEnv)); v != "" {
		return v, SourceEnv
	}
	secret, err := keyring.GetSecret(keyring.DatabaseURLKey)
	if err != nil {
		slog.Debug("Keyring lookup failed", "error", err)
	} else if secret != "" {
		return secret, SourceKeyring
	}
	if c.DatabaseURL != "" {
		return c.DatabaseURL, SourceConfig
	}
	return c.DefaultDatabaseURL(), SourceDefault
}

// HasCredentials reports whether a database URL carries a password and
// therefore belongs in the keyring rather than in config.hcl.
func HasCredentials(databaseURL string) bool {
	rest, ok := strings.CutPrefix(databaseURL, "postgres://")
	if !ok {
		rest, ok = strings.CutPrefix(databaseURL, "postgresql://")
	}
	if !ok {
		return false
	}
	at := strings.Index(rest, "@")
	if at < 0 {
		return false
	}
	return strings.Contains(rest[:at], ":")
}

// RedactDatabaseURL hides the password part of a database URL for display.
func RedactDatabaseURL(databaseURL string) string {
	if !HasCredentials(databaseURL) {
		return databaseURL
	}
	scheme, rest, _ := strings.Cut(databaseURL, "://")
	at := strings.Index(rest, "@")
	user, _, _ := strings.Cut(rest[:at], ":")
	return scheme + "://" + user + ":****" + rest[at:]
}
