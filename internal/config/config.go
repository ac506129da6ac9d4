package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Shiprocket ShiprocketConfig `yaml:"shiprocket"`
	SendGrid   SendGridConfig   `yaml:"sendgrid"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Log        LogConfig        `yaml:"log"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	Env                 string `yaml:"env"` // "development" or "production"
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	RLSRole  string `yaml:"rls_role"` // role assumed by user-scoped transactions
}

// RedisConfig contains the webhook de-duplication store settings
type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	DedupTTLMinutes int    `yaml:"dedup_ttl_minutes"`
}

// JWTConfig contains the identity provider's signing secret
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// WebhookConfig contains carrier webhook settings
type WebhookConfig struct {
	ShiprocketSecret string `yaml:"shiprocket_secret"`
	MaxPickupRetries int    `yaml:"max_pickup_retries"`
}

// ShiprocketConfig contains reverse-pickup API settings
type ShiprocketConfig struct {
	BaseURL        string          `yaml:"base_url"`
	Email          string          `yaml:"email"`
	Password       string          `yaml:"password"`
	TimeoutSeconds int             `yaml:"timeout_seconds"`
	Warehouse      WarehouseConfig `yaml:"warehouse"`
	Package        PackageConfig   `yaml:"package"`
}

// WarehouseConfig is where returned parcels are delivered
type WarehouseConfig struct {
	Name    string `yaml:"name"`
	Phone   string `yaml:"phone"`
	Address string `yaml:"address"`
	City    string `yaml:"city"`
	State   string `yaml:"state"`
	Pincode string `yaml:"pincode"`
	Country string `yaml:"country"`
}

// PackageConfig holds default parcel dimensions (cm, kg)
type PackageConfig struct {
	Length  float64 `yaml:"length"`
	Breadth float64 `yaml:"breadth"`
	Height  float64 `yaml:"height"`
	Weight  float64 `yaml:"weight"`
}

// SendGridConfig contains customer email settings
type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// WalletConfig contains store-credit settings
type WalletConfig struct {
	CreditExpiryMonths  int `yaml:"credit_expiry_months"`
	ExpiringWindowDays  int `yaml:"expiring_window_days"`
	TransactionsLimit   int `yaml:"transactions_limit"`
	MaxTransactionsPage int `yaml:"max_transactions_page"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	DispatchAuditOutbox  string `yaml:"dispatch_audit_outbox"`
	ReportStalledPickups string `yaml:"report_stalled_pickups"`
	OutboxBatchSize      int    `yaml:"outbox_batch_size"`
	StalledAfterDays     int    `yaml:"stalled_after_days"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a validated Config from YAML bytes and the environment
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}
	if val := os.Getenv("APP_ENV"); val != "" {
		c.Server.Env = val
	}

	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Redis
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}

	// Secrets
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}
	if val := os.Getenv("SHIPROCKET_WEBHOOK_SECRET"); val != "" {
		c.Webhook.ShiprocketSecret = val
	}
	if val := os.Getenv("SHIPROCKET_EMAIL"); val != "" {
		c.Shiprocket.Email = val
	}
	if val := os.Getenv("SHIPROCKET_PASSWORD"); val != "" {
		c.Shiprocket.Password = val
	}
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.SendGrid.APIKey = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	// Database validation
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	// Webhook validation
	if c.Webhook.ShiprocketSecret == "" {
		return fmt.Errorf("shiprocket webhook secret is required")
	}
	if c.Webhook.MaxPickupRetries == 0 {
		c.Webhook.MaxPickupRetries = 2
	}
	if c.Webhook.MaxPickupRetries < 0 {
		return fmt.Errorf("invalid max pickup retries: %d", c.Webhook.MaxPickupRetries)
	}

	// Redis defaults
	if c.Redis.DedupTTLMinutes == 0 {
		c.Redis.DedupTTLMinutes = 24 * 60
	}

	// Shiprocket defaults
	if c.Shiprocket.BaseURL == "" {
		c.Shiprocket.BaseURL = "https://apiv2.shiprocket.in"
	}
	if c.Shiprocket.TimeoutSeconds == 0 {
		c.Shiprocket.TimeoutSeconds = 20
	}
	if c.Shiprocket.Package.Length == 0 {
		c.Shiprocket.Package = PackageConfig{Length: 20, Breadth: 15, Height: 10, Weight: 0.5}
	}

	// Wallet defaults
	if c.Wallet.CreditExpiryMonths == 0 {
		c.Wallet.CreditExpiryMonths = 12
	}
	if c.Wallet.ExpiringWindowDays == 0 {
		c.Wallet.ExpiringWindowDays = 30
	}
	if c.Wallet.TransactionsLimit == 0 {
		c.Wallet.TransactionsLimit = 50
	}
	if c.Wallet.MaxTransactionsPage == 0 {
		c.Wallet.MaxTransactionsPage = 200
	}

	// Scheduler defaults
	if c.Scheduler.DispatchAuditOutbox == "" {
		c.Scheduler.DispatchAuditOutbox = "0 * * * * *" // every minute
	}
	if c.Scheduler.ReportStalledPickups == "" {
		c.Scheduler.ReportStalledPickups = "0 0 6 * * *" // 6 AM UTC
	}
	if c.Scheduler.OutboxBatchSize == 0 {
		c.Scheduler.OutboxBatchSize = 100
	}
	if c.Scheduler.StalledAfterDays == 0 {
		c.Scheduler.StalledAfterDays = 7
	}

	return nil
}

// IsProduction reports whether raw error details must be hidden
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
