package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v4"
)

// Config is the full run configuration. Everything comes from environment
// variables; a YAML file named by MAILLEDGER_CONFIG may supply defaults for
// the non-secret fields, with the environment always winning.
type Config struct {
	Protocol string `yaml:"protocol"` // "imap" or "pop3"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"-"`
	Password string `yaml:"-"`
	Folder   string `yaml:"folder"`
	UseTLS   bool   `yaml:"use_tls"`

	// GoogleCredentials is the raw service-account JSON bundle.
	GoogleCredentials string `yaml:"-"`
	SpreadsheetID     string `yaml:"spreadsheet_id"`
	SheetName         string `yaml:"sheet_name"`
	DriveFolderID     string `yaml:"drive_folder_id"`

	AttachmentColumns int    `yaml:"attachment_columns"`
	BodyLimit         int    `yaml:"body_limit"`
	ExtractEndpoint   string `yaml:"extract_endpoint"`
	ExtractAPIKey     string `yaml:"-"`
	LockFile          string `yaml:"lock_file"`
	LogLevel          string `yaml:"log_level"`
}

// Load builds the configuration from the environment, layered over the
// optional YAML defaults file and the built-in defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Protocol:          "imap",
		Folder:            "INBOX",
		UseTLS:            true,
		SheetName:         "Log",
		AttachmentColumns: 3,
		BodyLimit:         2000,
		LockFile:          "/tmp/mailledger.lock",
		LogLevel:          "info",
	}

	if path := os.Getenv("MAILLEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	envStr(&cfg.Protocol, "MAILBOX_PROTOCOL")
	envStr(&cfg.Host, "MAILBOX_HOST")
	envStr(&cfg.Username, "MAILBOX_USERNAME")
	envStr(&cfg.Password, "MAILBOX_PASSWORD")
	envStr(&cfg.Folder, "MAILBOX_FOLDER")
	envStr(&cfg.GoogleCredentials, "GOOGLE_CREDENTIALS_JSON")
	envStr(&cfg.SpreadsheetID, "SPREADSHEET_ID")
	envStr(&cfg.SheetName, "SHEET_NAME")
	envStr(&cfg.DriveFolderID, "DRIVE_FOLDER_ID")
	envStr(&cfg.ExtractEndpoint, "EXTRACT_ENDPOINT")
	envStr(&cfg.ExtractAPIKey, "EXTRACT_API_KEY")
	envStr(&cfg.LockFile, "LOCK_FILE")
	envStr(&cfg.LogLevel, "LOG_LEVEL")
	if err := envInt(&cfg.Port, "MAILBOX_PORT"); err != nil {
		return nil, err
	}
	if err := envInt(&cfg.AttachmentColumns, "ATTACHMENT_COLUMNS"); err != nil {
		return nil, err
	}
	if err := envInt(&cfg.BodyLimit, "BODY_LIMIT"); err != nil {
		return nil, err
	}
	if err := envBool(&cfg.UseTLS, "MAILBOX_TLS"); err != nil {
		return nil, err
	}

	cfg.Protocol = strings.ToLower(cfg.Protocol)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Protocol != "imap" && c.Protocol != "pop3" {
		return fmt.Errorf("MAILBOX_PROTOCOL must be imap or pop3")
	}
	if c.Host == "" {
		return fmt.Errorf("MAILBOX_HOST is required")
	}
	if c.Username == "" {
		return fmt.Errorf("MAILBOX_USERNAME is required")
	}
	if c.Password == "" {
		return fmt.Errorf("MAILBOX_PASSWORD is required")
	}
	if c.GoogleCredentials == "" {
		return fmt.Errorf("GOOGLE_CREDENTIALS_JSON is required")
	}
	if c.SpreadsheetID == "" {
		return fmt.Errorf("SPREADSHEET_ID is required")
	}
	if c.DriveFolderID == "" {
		return fmt.Errorf("DRIVE_FOLDER_ID is required")
	}
	if c.AttachmentColumns < 1 {
		return fmt.Errorf("ATTACHMENT_COLUMNS must be at least 1")
	}
	return nil
}

// GetPort returns the mailbox port, defaulting by protocol and TLS.
func (c *Config) GetPort() int {
	if c.Port > 0 {
		return c.Port
	}
	switch {
	case c.Protocol == "pop3" && c.UseTLS:
		return 995
	case c.Protocol == "pop3":
		return 110
	case c.UseTLS:
		return 993
	default:
		return 143
	}
}

// GetSpreadsheetID returns the bare document ID, accepting either an ID or
// a full Sheets URL.
func (c *Config) GetSpreadsheetID() string {
	return idFromURL(c.SpreadsheetID, "/d/")
}

// GetDriveFolderID returns the bare folder ID, accepting either an ID or a
// full Drive folder URL.
func (c *Config) GetDriveFolderID() string {
	return idFromURL(c.DriveFolderID, "/folders/")
}

// idFromURL extracts the identifier following marker in a share URL; plain
// IDs pass through unchanged.
func idFromURL(s, marker string) string {
	i := strings.Index(s, marker)
	if i == -1 {
		return s
	}
	id := s[i+len(marker):]
	if j := strings.IndexAny(id, "/?#"); j != -1 {
		id = id[:j]
	}
	return id
}

// MaterializeCredentials writes the service-account bundle to a transient
// 0600 file for the duration of the run. The returned cleanup removes it.
func (c *Config) MaterializeCredentials() (string, func(), error) {
	f, err := os.CreateTemp("", "mailledger-creds-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("create credentials file: %w", err)
	}
	path := f.Name()
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("chmod credentials file: %w", err)
	}
	if _, err := f.WriteString(c.GoogleCredentials); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("write credentials file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("close credentials file: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
