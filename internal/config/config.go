package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Redis     RedisConfig     `yaml:"redis"`
	Send      SendConfig      `yaml:"send"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	Mailgun   MailgunConfig   `yaml:"mailgun"`
	SES       SESConfig       `yaml:"ses"`
	Mailjet   MailjetConfig   `yaml:"mailjet"`
	MailPace  MailPaceConfig  `yaml:"mailpace"`
	Mailtrap  MailtrapConfig  `yaml:"mailtrap"`
	Resend    ResendConfig    `yaml:"resend"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	Unisender UnisenderConfig `yaml:"unisender"`
	Responsys ResponsysConfig `yaml:"responsys"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// WebhookConfig holds inbound webhook authentication settings.
// Secrets is a rotation list of "user:password" Basic-Auth pairs: a
// request authenticating with any listed pair is accepted, which lets
// a new secret be rolled out while ESPs still deliver with the old one.
type WebhookConfig struct {
	Secrets []string `yaml:"secrets"`
}

// RedisConfig holds Redis settings for webhook event de-duplication.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SendConfig holds global send-behavior flags.
type SendConfig struct {
	// Permissive drops unsupported message features with a warning
	// instead of failing the send before any API call.
	Permissive bool `yaml:"permissive"`
	// LocalRender enables Liquid rendering of merge data for providers
	// without native batch merge (one API call per recipient).
	LocalRender bool `yaml:"local_render"`
}

// SparkPostConfig holds SparkPost API configuration
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MailgunConfig holds Mailgun API configuration
type MailgunConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Domain         string `yaml:"domain"`
	SigningKey     string `yaml:"signing_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c MailgunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MailjetConfig holds Mailjet API configuration
type MailjetConfig struct {
	APIKey         string `yaml:"api_key"`
	SecretKey      string `yaml:"secret_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c MailjetConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MailPaceConfig holds MailPace API configuration
type MailPaceConfig struct {
	ServerToken    string `yaml:"server_token"`
	BaseURL        string `yaml:"base_url"`
	WebhookKey     string `yaml:"webhook_key"` // base64 Ed25519 public key
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c MailPaceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MailtrapConfig holds Mailtrap API configuration
type MailtrapConfig struct {
	APIToken       string `yaml:"api_token"`
	BaseURL        string `yaml:"base_url"`
	TestInboxID    string `yaml:"test_inbox_id"` // non-empty switches to sandbox sending
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c MailtrapConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResendConfig holds Resend API configuration
type ResendConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c ResendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendGridConfig holds SendGrid API configuration
type SendGridConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	WebhookKey     string `yaml:"webhook_key"` // base64 ECDSA public key for event signatures
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SendGridConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// UnisenderConfig holds Unisender Go API configuration.
// BaseURL has no default: the endpoint depends on the account region
// (go1.unisender.ru vs go2.unisender.ru), so it must be configured.
type UnisenderConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c UnisenderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResponsysConfig holds Oracle Responsys API configuration.
// Campaign trigger calls go to the endpoint the login service hands
// back, so only the login URL is configurable.
type ResponsysConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	LoginURL       string `yaml:"login_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c ResponsysConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.Mailgun.BaseURL == "" {
		cfg.Mailgun.BaseURL = "https://api.mailgun.net"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Mailjet.BaseURL == "" {
		cfg.Mailjet.BaseURL = "https://api.mailjet.com/v3"
	}
	if cfg.MailPace.BaseURL == "" {
		cfg.MailPace.BaseURL = "https://app.mailpace.com/api/v1"
	}
	if cfg.Mailtrap.BaseURL == "" {
		cfg.Mailtrap.BaseURL = "https://send.api.mailtrap.io/api"
	}
	if cfg.Resend.BaseURL == "" {
		cfg.Resend.BaseURL = "https://api.resend.com"
	}
	if cfg.SendGrid.BaseURL == "" {
		cfg.SendGrid.BaseURL = "https://api.sendgrid.com/v3"
	}
	if cfg.Responsys.LoginURL == "" {
		cfg.Responsys.LoginURL = "https://login2.responsys.net/rest/api/v1.3/auth/token"
	}
	for _, tc := range []*int{
		&cfg.SparkPost.TimeoutSeconds,
		&cfg.Mailgun.TimeoutSeconds,
		&cfg.SES.TimeoutSeconds,
		&cfg.Mailjet.TimeoutSeconds,
		&cfg.MailPace.TimeoutSeconds,
		&cfg.Mailtrap.TimeoutSeconds,
		&cfg.Resend.TimeoutSeconds,
		&cfg.SendGrid.TimeoutSeconds,
		&cfg.Unisender.TimeoutSeconds,
		&cfg.Responsys.TimeoutSeconds,
	} {
		if *tc == 0 {
			*tc = 30
		}
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if v := os.Getenv("WEBHOOK_SECRETS"); v != "" {
		cfg.Webhooks.Secrets = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SEND_PERMISSIVE"); v != "" {
		cfg.Send.Permissive, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.SparkPost.APIKey = v
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.SparkPost.BaseURL = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		cfg.Mailgun.APIKey = v
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		cfg.Mailgun.Domain = v
	}
	if v := os.Getenv("MAILGUN_SIGNING_KEY"); v != "" {
		cfg.Mailgun.SigningKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("MAILJET_API_KEY"); v != "" {
		cfg.Mailjet.APIKey = v
	}
	if v := os.Getenv("MAILJET_SECRET_KEY"); v != "" {
		cfg.Mailjet.SecretKey = v
	}
	if v := os.Getenv("MAILPACE_SERVER_TOKEN"); v != "" {
		cfg.MailPace.ServerToken = v
	}
	if v := os.Getenv("MAILPACE_WEBHOOK_KEY"); v != "" {
		cfg.MailPace.WebhookKey = v
	}
	if v := os.Getenv("MAILTRAP_API_TOKEN"); v != "" {
		cfg.Mailtrap.APIToken = v
	}
	if v := os.Getenv("MAILTRAP_TEST_INBOX_ID"); v != "" {
		cfg.Mailtrap.TestInboxID = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Resend.APIKey = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGrid.APIKey = v
	}
	if v := os.Getenv("SENDGRID_WEBHOOK_KEY"); v != "" {
		cfg.SendGrid.WebhookKey = v
	}
	if v := os.Getenv("UNISENDER_API_KEY"); v != "" {
		cfg.Unisender.APIKey = v
	}
	if v := os.Getenv("UNISENDER_BASE_URL"); v != "" {
		cfg.Unisender.BaseURL = v
	}
	if v := os.Getenv("RESPONSYS_USERNAME"); v != "" {
		cfg.Responsys.Username = v
	}
	if v := os.Getenv("RESPONSYS_PASSWORD"); v != "" {
		cfg.Responsys.Password = v
	}
	if v := os.Getenv("RESPONSYS_LOGIN_URL"); v != "" {
		cfg.Responsys.LoginURL = v
	}

	return cfg, nil
}
