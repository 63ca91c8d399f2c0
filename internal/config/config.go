// Package config merges flags, SENDERTALLY_* environment variables, a .env
// file and ~/.config/sendertally/config.yaml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sendertally/internal/report"
)

const envPrefix = "SENDERTALLY"

type IMAP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Security string `mapstructure:"security"` // tls, starttls or none
	Mailbox  string `mapstructure:"mailbox"`
}

type Config struct {
	Provider         string   `mapstructure:"provider"`
	Limit            int      `mapstructure:"limit"`
	PageSize         int      `mapstructure:"page_size"`
	MaxAttempts      int      `mapstructure:"max_attempts"`
	Query            string   `mapstructure:"query"`
	Labels           []string `mapstructure:"labels"`
	IncludeSpamTrash bool     `mapstructure:"include_spam_trash"`
	Exclude          []string `mapstructure:"exclude"`
	StripPlusAlias   bool     `mapstructure:"strip_plus_alias"`
	ByDomain         bool     `mapstructure:"by_domain"`
	Top              int      `mapstructure:"top"`
	Format           string   `mapstructure:"format"`
	LogLevel         string   `mapstructure:"log_level"`
	TUI              bool     `mapstructure:"tui"`
	TokenStore       string   `mapstructure:"token_store"`
	ConfigDir        string   `mapstructure:"config_dir"`
	IMAP             IMAP     `mapstructure:"imap"`
}

// DefaultDir returns ~/.config/sendertally, or the working directory when
// the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sendertally")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "gmail")
	v.SetDefault("limit", 100)
	v.SetDefault("page_size", 100)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("query", "")
	v.SetDefault("labels", []string{})
	v.SetDefault("include_spam_trash", false)
	v.SetDefault("exclude", []string{})
	v.SetDefault("strip_plus_alias", false)
	v.SetDefault("by_domain", false)
	v.SetDefault("top", 0)
	v.SetDefault("format", "text")
	v.SetDefault("log_level", "info")
	v.SetDefault("tui", false)
	v.SetDefault("token_store", "file")
	v.SetDefault("config_dir", DefaultDir())
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 0)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.security", "tls")
	v.SetDefault("imap.mailbox", "INBOX")
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"provider":           "provider",
	"limit":              "limit",
	"page-size":          "page_size",
	"max-attempts":       "max_attempts",
	"query":              "query",
	"label":              "labels",
	"include-spam-trash": "include_spam_trash",
	"exclude":            "exclude",
	"strip-plus-alias":   "strip_plus_alias",
	"by-domain":          "by_domain",
	"top":                "top",
	"format":             "format",
	"log-level":          "log_level",
	"tui":                "tui",
	"token-store":        "token_store",
	"config-dir":         "config_dir",
	"imap-host":          "imap.host",
	"imap-port":          "imap.port",
	"imap-user":          "imap.username",
	"imap-security":      "imap.security",
	"imap-mailbox":       "imap.mailbox",
}

// NewFlagSet declares the command line flags. Defaults live in viper, so
// only flags the user actually sets override other sources.
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("provider", "gmail", "mail provider: gmail or imap")
	flags.IntP("limit", "n", 100, "maximum messages to process (0 = whole mailbox)")
	flags.Int("page-size", 100, "message IDs per list request (max 500)")
	flags.Int("max-attempts", 3, "attempts per request before giving up on transient errors")
	flags.StringP("query", "q", "", "Gmail search query, e.g. newer_than:1y")
	flags.StringSlice("label", nil, "restrict to Gmail label IDs (repeatable)")
	flags.Bool("include-spam-trash", false, "include SPAM and TRASH")
	flags.StringSlice("exclude", nil, "sender addresses never counted (repeatable)")
	flags.Bool("strip-plus-alias", false, "count user+tag@host as user@host")
	flags.Bool("by-domain", false, "also rank sender domains")
	flags.Int("top", 0, "show only the top N senders (0 = all)")
	flags.StringP("format", "f", "text", "report format: text, csv or json")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Bool("tui", false, "interactive terminal UI")
	flags.String("token-store", "file", "token cache: file, sqlite or keyring")
	flags.String("config-dir", DefaultDir(), "directory for config.yaml, client_secret.json and caches")
	flags.String("config", "", "config file (default <config-dir>/config.yaml)")
	flags.String("imap-host", "", "IMAP server host")
	flags.Int("imap-port", 0, "IMAP server port (default 993, or 143 without implicit TLS)")
	flags.String("imap-user", "", "IMAP login")
	flags.String("imap-security", "tls", "IMAP connection security: tls, starttls or none")
	flags.String("imap-mailbox", "INBOX", "IMAP mailbox to examine")
	return flags
}

// Load parses args and merges every configuration source. It returns
// pflag.ErrHelp when -h or --help was given.
func Load(args []string) (*Config, error) {
	flags := NewFlagSet("sendertally")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", name, err)
		}
	}

	path, _ := flags.GetString("config")
	if path == "" {
		path = filepath.Join(v.GetString("config_dir"), "config.yaml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	c.TokenStore = strings.ToLower(strings.TrimSpace(c.TokenStore))
	c.IMAP.Security = strings.ToLower(strings.TrimSpace(c.IMAP.Security))
	if c.IMAP.Port == 0 {
		c.IMAP.Port = 993
		if c.IMAP.Security != "tls" {
			c.IMAP.Port = 143
		}
	}
}

// Validate rejects values the rest of the program cannot act on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case "gmail", "imap":
	default:
		errs = append(errs, fmt.Errorf("provider must be gmail or imap, got %q", c.Provider))
	}
	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must be >= 0, got %d", c.Limit))
	}
	if c.PageSize < 1 || c.PageSize > 500 {
		errs = append(errs, fmt.Errorf("page_size must be between 1 and 500, got %d", c.PageSize))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.Top < 0 {
		errs = append(errs, fmt.Errorf("top must be >= 0, got %d", c.Top))
	}
	if _, err := report.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.TokenStore {
	case "file", "sqlite", "keyring":
	default:
		errs = append(errs, fmt.Errorf("token_store must be file, sqlite or keyring, got %q", c.TokenStore))
	}
	if c.Provider == "imap" {
		if c.IMAP.Host == "" {
			errs = append(errs, errors.New("imap.host is required for the imap provider"))
		}
		if c.IMAP.Username == "" {
			errs = append(errs, errors.New("imap.username is required for the imap provider"))
		}
		switch c.IMAP.Security {
		case "tls", "starttls", "none":
		default:
			errs = append(errs, fmt.Errorf("imap.security must be tls, starttls or none, got %q", c.IMAP.Security))
		}
	}
	return errors.Join(errs...)
}
