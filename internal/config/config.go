// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Prometheus    PrometheusConfig   `yaml:"prometheus"`
	Logging       LoggingConfig      `yaml:"logging"`
	Polling       PollingConfig      `yaml:"polling"`
	Availability  AvailabilityConfig `yaml:"availability"`
	Notifications NotificationConfig `yaml:"notifications"`
	Accounts      []AccountConfig    `yaml:"accounts"`
	Include       IncludeConfig      `yaml:"include"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path             string        `yaml:"path"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PollingConfig struct {
	DefaultInterval time.Duration  `yaml:"default_interval"`
	RequestTimeout  time.Duration  `yaml:"request_timeout"`
	RestoreState    *bool          `yaml:"restore_state"`
	FastPoll        FastPollConfig `yaml:"fast_poll"`
}

// ShouldRestoreState defaults to true when restore_state is not set.
func (p PollingConfig) ShouldRestoreState() bool {
	return p.RestoreState == nil || *p.RestoreState
}

type FastPollConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

type AvailabilityConfig struct {
	Timezone         string  `yaml:"timezone"`
	DefaultSLATarget float64 `yaml:"default_sla_target"`
}

// Location is the zone used for recurring downtime calendar math.
func (a AvailabilityConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

type AccountConfig struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Enabled   bool            `yaml:"enabled"`
	Interval  time.Duration   `yaml:"interval"`
	Inventory InventoryConfig `yaml:"inventory"`
}

type InventoryConfig struct {
	Type           string         `yaml:"type"`
	BaseURL        string         `yaml:"base_url"`
	Token          string         `yaml:"token"`
	TokenExpiresAt time.Time      `yaml:"token_expires_at"`
	PingCount      int            `yaml:"ping_count"`
	PingTimeout    time.Duration  `yaml:"ping_timeout"`
	Privileged     bool           `yaml:"privileged"`
	Devices        []DeviceConfig `yaml:"devices"`
}

type DeviceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

const (
	InventoryHTTP = "http"
	InventoryICMP = "icmp"
)

// PartialConfig represents a partial configuration that can be merged
type PartialConfig struct {
	Server        *ServerConfig       `yaml:"server,omitempty"`
	Database      *DatabaseConfig     `yaml:"database,omitempty"`
	Prometheus    *PrometheusConfig   `yaml:"prometheus,omitempty"`
	Logging       *LoggingConfig      `yaml:"logging,omitempty"`
	Polling       *PollingConfig      `yaml:"polling,omitempty"`
	Availability  *AvailabilityConfig `yaml:"availability,omitempty"`
	Notifications *NotificationConfig `yaml:"notifications,omitempty"`
	Accounts      []AccountConfig     `yaml:"accounts,omitempty"`
}

func Load(filename string) (*Config, error) {
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}

	// The default pattern picks up .yml files too
	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergePartialConfig(config, &partial)
	return nil
}

func mergePartialConfig(config *Config, partial *PartialConfig) {
	if len(partial.Accounts) > 0 {
		mergeAccounts(config, partial.Accounts)
	}

	// Other sections only override what they set
	if partial.Server != nil {
		mergeServerConfig(&config.Server, partial.Server)
	}
	if partial.Database != nil {
		mergeDatabaseConfig(&config.Database, partial.Database)
	}
	if partial.Prometheus != nil {
		mergePrometheusConfig(&config.Prometheus, partial.Prometheus)
	}
	if partial.Logging != nil {
		mergeLoggingConfig(&config.Logging, partial.Logging)
	}
	if partial.Polling != nil {
		mergePollingConfig(&config.Polling, partial.Polling)
	}
	if partial.Availability != nil {
		if partial.Availability.Timezone != "" {
			config.Availability.Timezone = partial.Availability.Timezone
		}
		if partial.Availability.DefaultSLATarget != 0 {
			config.Availability.DefaultSLATarget = partial.Availability.DefaultSLATarget
		}
	}
	if partial.Notifications != nil {
		mergeNotificationConfig(&config.Notifications, partial.Notifications)
	}
}

func mergeAccounts(config *Config, newAccounts []AccountConfig) {
	existing := make(map[string]int)
	for i := range config.Accounts {
		existing[config.Accounts[i].ID] = i
	}

	for _, account := range newAccounts {
		idx, ok := existing[account.ID]
		if !ok {
			config.Accounts = append(config.Accounts, account)
			existing[account.ID] = len(config.Accounts) - 1
			continue
		}

		if isPartialAccountDefinition(account) {
			appendDevices(&config.Accounts[idx], account.Inventory.Devices)
		} else {
			config.Accounts[idx] = account
		}
	}
}

// isPartialAccountDefinition reports whether only the ID and devices are set.
func isPartialAccountDefinition(account AccountConfig) bool {
	inv := account.Inventory
	return account.ID != "" &&
		len(inv.Devices) > 0 &&
		account.Name == "" &&
		!account.Enabled &&
		account.Interval == 0 &&
		inv.Type == "" &&
		inv.BaseURL == "" &&
		inv.Token == "" &&
		inv.TokenExpiresAt.IsZero() &&
		inv.PingCount == 0 &&
		inv.PingTimeout == 0 &&
		!inv.Privileged
}

func appendDevices(account *AccountConfig, devices []DeviceConfig) {
	seen := make(map[string]bool)
	for _, device := range account.Inventory.Devices {
		seen[device.ID] = true
	}

	for _, device := range devices {
		if !seen[device.ID] {
			account.Inventory.Devices = append(account.Inventory.Devices, device)
			seen[device.ID] = true
		}
	}
}

func mergeServerConfig(main *ServerConfig, partial *ServerConfig) {
	if partial.Port != "" {
		main.Port = partial.Port
	}
	if partial.ReadTimeout != 0 {
		main.ReadTimeout = partial.ReadTimeout
	}
	if partial.WriteTimeout != 0 {
		main.WriteTimeout = partial.WriteTimeout
	}
}

func mergeDatabaseConfig(main *DatabaseConfig, partial *DatabaseConfig) {
	if partial.Path != "" {
		main.Path = partial.Path
	}
	if partial.CleanupInterval != 0 {
		main.CleanupInterval = partial.CleanupInterval
	}
	if partial.HistoryRetention != 0 {
		main.HistoryRetention = partial.HistoryRetention
	}
}

func mergePrometheusConfig(main *PrometheusConfig, partial *PrometheusConfig) {
	main.Enabled = partial.Enabled
	if partial.MetricsPath != "" {
		main.MetricsPath = partial.MetricsPath
	}
}

func mergeLoggingConfig(main *LoggingConfig, partial *LoggingConfig) {
	if partial.Level != "" {
		main.Level = partial.Level
	}
	if partial.Format != "" {
		main.Format = partial.Format
	}
}

func mergePollingConfig(main *PollingConfig, partial *PollingConfig) {
	if partial.DefaultInterval != 0 {
		main.DefaultInterval = partial.DefaultInterval
	}
	if partial.RequestTimeout != 0 {
		main.RequestTimeout = partial.RequestTimeout
	}
	if partial.RestoreState != nil {
		main.RestoreState = partial.RestoreState
	}
	if partial.FastPoll.MaxRetries != 0 {
		main.FastPoll.MaxRetries = partial.FastPoll.MaxRetries
	}
	if partial.FastPoll.BaseDelay != 0 {
		main.FastPoll.BaseDelay = partial.FastPoll.BaseDelay
	}
	if partial.FastPoll.AttemptTimeout != 0 {
		main.FastPoll.AttemptTimeout = partial.FastPoll.AttemptTimeout
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/netavail.db"
	}
	if cfg.Database.CleanupInterval == 0 {
		cfg.Database.CleanupInterval = 6 * time.Hour
	}

	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}

	if cfg.Polling.DefaultInterval == 0 {
		cfg.Polling.DefaultInterval = 300 * time.Second
	}
	if cfg.Polling.RequestTimeout == 0 {
		cfg.Polling.RequestTimeout = 30 * time.Second
	}
	if cfg.Polling.FastPoll.MaxRetries == 0 {
		cfg.Polling.FastPoll.MaxRetries = 3
	}
	if cfg.Polling.FastPoll.BaseDelay == 0 {
		cfg.Polling.FastPoll.BaseDelay = time.Second
	}
	if cfg.Polling.FastPoll.AttemptTimeout == 0 {
		cfg.Polling.FastPoll.AttemptTimeout = 10 * time.Second
	}

	if cfg.Availability.Timezone == "" {
		cfg.Availability.Timezone = "UTC"
	}
	if cfg.Availability.DefaultSLATarget == 0 {
		cfg.Availability.DefaultSLATarget = 99.9
	}

	for i := range cfg.Accounts {
		account := &cfg.Accounts[i]
		if account.Interval == 0 {
			account.Interval = cfg.Polling.DefaultInterval
		}
		if account.Inventory.Type == "" {
			account.Inventory.Type = InventoryHTTP
		}
	}

	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	setNotificationDefaults(&cfg.Notifications)
}

func validate(cfg *Config) error {
	if cfg.Polling.DefaultInterval <= 0 {
		return fmt.Errorf("polling.default_interval must be positive")
	}
	if cfg.Polling.RequestTimeout <= 0 {
		return fmt.Errorf("polling.request_timeout must be positive")
	}
	if cfg.Polling.FastPoll.MaxRetries < 1 {
		return fmt.Errorf("polling.fast_poll.max_retries must be at least 1")
	}
	if cfg.Polling.FastPoll.BaseDelay < 0 {
		return fmt.Errorf("polling.fast_poll.base_delay cannot be negative")
	}
	if cfg.Database.HistoryRetention < 0 {
		return fmt.Errorf("database.history_retention cannot be negative")
	}

	if _, err := cfg.Availability.Location(); err != nil {
		return fmt.Errorf("availability.timezone %q: %w", cfg.Availability.Timezone, err)
	}
	if cfg.Availability.DefaultSLATarget < 0 || cfg.Availability.DefaultSLATarget > 100 {
		return fmt.Errorf("availability.default_sla_target must be between 0 and 100")
	}

	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			return fmt.Errorf("include.directory must be specified when include.enabled is true")
		}
		if cfg.Include.Pattern != "" && !isValidGlobPattern(cfg.Include.Pattern) {
			return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
		}
	}

	if err := cfg.Notifications.Pushover.Validate(); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}

	accountIDs := make(map[string]bool)
	for _, account := range cfg.Accounts {
		if account.ID == "" {
			return fmt.Errorf("account without id")
		}
		if accountIDs[account.ID] {
			return fmt.Errorf("duplicate account ID: %s", account.ID)
		}
		accountIDs[account.ID] = true

		if account.Interval <= 0 {
			return fmt.Errorf("account '%s' has invalid interval: %s", account.ID, account.Interval)
		}
		if err := validateInventory(account); err != nil {
			return err
		}
	}

	return nil
}

func validateInventory(account AccountConfig) error {
	inv := account.Inventory

	switch inv.Type {
	case InventoryHTTP:
		if !isValidURL(inv.BaseURL) {
			return fmt.Errorf("account '%s' inventory.base_url must be a valid URL", account.ID)
		}
	case InventoryICMP:
		deviceIDs := make(map[string]bool)
		for _, device := range inv.Devices {
			if device.ID == "" || device.Address == "" {
				return fmt.Errorf("account '%s' has a device without id or address", account.ID)
			}
			if deviceIDs[device.ID] {
				return fmt.Errorf("account '%s' has duplicate device ID: %s", account.ID, device.ID)
			}
			deviceIDs[device.ID] = true
		}
	default:
		return fmt.Errorf("account '%s' has unknown inventory type: %s", account.ID, inv.Type)
	}
	return nil
}

// FindAccount returns the account with the given ID, or nil.
func (c *Config) FindAccount(id string) *AccountConfig {
	for i := range c.Accounts {
		if c.Accounts[i].ID == id {
			return &c.Accounts[i]
		}
	}
	return nil
}

// isValidURL checks if a string is a valid URL
func isValidURL(str string) bool {
	return strings.HasPrefix(str, "http://") && len(str) > 7 ||
		strings.HasPrefix(str, "https://") && len(str) > 8
}

// isValidGlobPattern checks if a string is a valid glob pattern
func isValidGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
		return false
	}
	_, err := filepath.Match(pattern, "test.yaml")
	return err == nil
}
