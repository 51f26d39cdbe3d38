package goCred

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goCred/passphrase"
	"github.com/MrEthical07/goCred/password"
)

// Config holds every tunable of the Engine. It is copied into the Engine at
// Build time and treated as immutable afterwards.
type Config struct {
	Application        ApplicationConfig        `mapstructure:"application"`
	Authentication     AuthenticationConfig     `mapstructure:"authentication"`
	Password           PasswordConfig           `mapstructure:"password"`
	PasswordReset      PasswordResetConfig      `mapstructure:"password_reset"`
	PasswordGeneration PasswordGenerationConfig `mapstructure:"password_generation"`
	SAML               SAMLConfig               `mapstructure:"saml"`
	Email              EmailConfig              `mapstructure:"email"`
	ChangeTicket       ChangeTicketConfig       `mapstructure:"change_ticket"`
	Audit              AuditConfig              `mapstructure:"audit"`
	Metrics            MetricsConfig            `mapstructure:"metrics"`
	Logging            LoggingConfig            `mapstructure:"logging"`
}

/*
====================================
APPLICATION CONFIG
====================================
*/

// ApplicationConfig names the application in emails and links.
type ApplicationConfig struct {
	DisplayName string `mapstructure:"display_name"`
	URL         string `mapstructure:"url"`
}

/*
====================================
AUTHENTICATION CONFIG
====================================
*/

// AuthenticationConfig selects the credential sources and lockout policy.
//
// Table-based and LDAP strategies are tried in that order. SAML is handled
// by the federation provider and only its post-assertion checks run here.
type AuthenticationConfig struct {
	TableBasedEnabled bool          `mapstructure:"table_based_enabled"`
	LDAPEnabled       bool          `mapstructure:"ldap_enabled"`
	SAMLEnabled       bool          `mapstructure:"saml_enabled"`
	MaxLoginAttempts  int           `mapstructure:"max_login_attempts"`
	UsernameStyle     UsernameStyle `mapstructure:"username_style"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hasher and the credential lifetime.
type PasswordConfig struct {
	Algorithm                   string        `mapstructure:"algorithm"`
	Memory                      uint32        `mapstructure:"memory"`
	Time                        uint32        `mapstructure:"time"`
	Parallelism                 uint8         `mapstructure:"parallelism"`
	SaltLength                  uint32        `mapstructure:"salt_length"`
	KeyLength                   uint32        `mapstructure:"key_length"`
	BcryptCost                  int           `mapstructure:"bcrypt_cost"`
	CredentialsExpirationPeriod time.Duration `mapstructure:"credentials_expiration_period"`
}

func (c PasswordConfig) argon2() password.Config {
	return password.Config{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig bounds the lifetime of issued reset tokens and how
// often they may be requested. MaxRequests of zero disables the throttle,
// as does a store that does not implement ResetRequestLimiter.
type PasswordResetConfig struct {
	TokenValidFor time.Duration `mapstructure:"token_valid_for"`
	MaxRequests   int           `mapstructure:"max_requests"`
	RequestWindow time.Duration `mapstructure:"request_window"`
	ThrottleByIP  bool          `mapstructure:"throttle_by_ip"`
}

/*
====================================
PASSWORD GENERATION CONFIG
====================================
*/

// PasswordGenerationConfig drives the temporary password generator. It is
// only active when both Enabled and table-based authentication are set.
type PasswordGenerationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Dictionary    string `mapstructure:"dictionary"`
	MinWordLength int    `mapstructure:"min_word_length"`
	MaxWordLength int    `mapstructure:"max_word_length"`
	Separator     string `mapstructure:"separator"`
	SpecialChars  string `mapstructure:"special_chars"`
	Format        string `mapstructure:"format"`
}

func (c PasswordGenerationConfig) generator() passphrase.Config {
	return passphrase.Config{
		MinWordLength: c.MinWordLength,
		MaxWordLength: c.MaxWordLength,
		Separator:     c.Separator,
		SpecialChars:  c.SpecialChars,
		Format:        c.Format,
	}
}

/*
====================================
SAML CONFIG
====================================
*/

// SAMLConfig names the assertion attributes and the post-assertion checks.
type SAMLConfig struct {
	UserIDAttribute    string `mapstructure:"user_id_attribute"`
	EmailAttribute     string `mapstructure:"email_attribute"`
	FirstNameAttribute string `mapstructure:"first_name_attribute"`
	LastNameAttribute  string `mapstructure:"last_name_attribute"`
	GroupAttribute     string `mapstructure:"group_attribute"`
	RequiredGroup      string `mapstructure:"required_group"`
	ValidateDatabase   bool   `mapstructure:"validate_database"`
	ProvisionAccounts  bool   `mapstructure:"provision_accounts"`
}

/*
====================================
EMAIL CONFIG
====================================
*/

// EmailConfig controls outbound notification delivery.
//
// With DryRun set, or when a recipient is blank and Required is false,
// messages are logged instead of sent.
type EmailConfig struct {
	Required bool   `mapstructure:"required"`
	DryRun   bool   `mapstructure:"dry_run"`
	From     string `mapstructure:"from"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

/*
====================================
CHANGE TICKET CONFIG
====================================
*/

// ChangeTicketConfig controls the signed ticket handed out after a
// CredentialsExpired login.
type ChangeTicketConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
}

/*
====================================
AUDIT / METRICS / LOGGING CONFIG
====================================
*/

// AuditConfig controls the buffered security audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// LoggingConfig controls NewLogger. An empty File logs to stderr.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	gen := passphrase.DefaultConfig()
	return Config{
		Application: ApplicationConfig{
			DisplayName: "goCred",
		},
		Authentication: AuthenticationConfig{
			TableBasedEnabled: true,
			MaxLoginAttempts:  7,
			UsernameStyle:     UsernamePlain,
		},
		Password: PasswordConfig{
			Algorithm:                   password.AlgorithmArgon2,
			Memory:                      65536,
			Time:                        3,
			Parallelism:                 2,
			SaltLength:                  16,
			KeyLength:                   32,
			BcryptCost:                  password.DefaultBcryptCost,
			CredentialsExpirationPeriod: 180 * 24 * time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			TokenValidFor: 30 * time.Minute,
			MaxRequests:   5,
			RequestWindow: 15 * time.Minute,
			ThrottleByIP:  true,
		},
		PasswordGeneration: PasswordGenerationConfig{
			Enabled:       false,
			MinWordLength: gen.MinWordLength,
			MaxWordLength: gen.MaxWordLength,
			Separator:     gen.Separator,
			SpecialChars:  gen.SpecialChars,
			Format:        gen.Format,
		},
		SAML: SAMLConfig{
			UserIDAttribute:    "urn:oid:0.9.2342.19200300.100.1.1",
			EmailAttribute:     "urn:oid:0.9.2342.19200300.100.1.3",
			FirstNameAttribute: "urn:oid:2.5.4.42",
			LastNameAttribute:  "urn:oid:2.5.4.4",
			GroupAttribute:     "role",
		},
		Email: EmailConfig{
			Required: true,
			SMTPPort: 587,
		},
		ChangeTicket: ChangeTicketConfig{
			TTL:    10 * time.Minute,
			Issuer: "gocred",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// GeneratorEnabled reports whether temporary password generation is active.
func (c *Config) GeneratorEnabled() bool {
	return c.PasswordGeneration.Enabled && c.Authentication.TableBasedEnabled
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Authentication
	a := c.Authentication
	if !a.TableBasedEnabled && !a.LDAPEnabled && !a.SAMLEnabled {
		return errors.New("at least one authentication method must be enabled")
	}
	if a.MaxLoginAttempts <= 0 {
		return errors.New("Authentication MaxLoginAttempts must be > 0")
	}
	if !a.UsernameStyle.Valid() {
		return errors.New("Authentication UsernameStyle must be PLAIN, EMAIL or MIXED")
	}

	// Password
	switch c.Password.Algorithm {
	case password.AlgorithmArgon2:
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 {
			return errors.New("Password SaltLength must be >= 16")
		}
		if c.Password.KeyLength < 16 {
			return errors.New("Password KeyLength must be >= 16")
		}
	case password.AlgorithmBcrypt:
		if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
			return errors.New("Password BcryptCost must be between 4 and 31")
		}
	default:
		return errors.New("Password Algorithm must be argon2id or bcrypt")
	}
	if c.Password.CredentialsExpirationPeriod <= 0 {
		return errors.New("Password CredentialsExpirationPeriod must be > 0")
	}

	// Password Reset
	if c.PasswordReset.TokenValidFor <= 0 {
		return errors.New("PasswordReset TokenValidFor must be > 0")
	}
	if c.PasswordReset.MaxRequests < 0 {
		return errors.New("PasswordReset MaxRequests must be >= 0")
	}
	if c.PasswordReset.MaxRequests > 0 && c.PasswordReset.RequestWindow <= 0 {
		return errors.New("PasswordReset RequestWindow must be > 0 when MaxRequests is set")
	}

	// Password Generation
	if c.PasswordGeneration.Enabled {
		g := c.PasswordGeneration
		if g.MinWordLength <= 0 || g.MaxWordLength <= 0 {
			return errors.New("PasswordGeneration word lengths must be > 0")
		}
		if g.MinWordLength > g.MaxWordLength {
			return errors.New("PasswordGeneration MinWordLength must be <= MaxWordLength")
		}
		if _, err := passphrase.ParseFormat(g.Format, g.Separator); err != nil {
			return err
		}
	}

	// SAML
	if a.SAMLEnabled && strings.TrimSpace(c.SAML.UserIDAttribute) == "" {
		return errors.New("SAML UserIDAttribute must be set when SAML is enabled")
	}

	// Email
	if !c.Email.DryRun && c.Email.SMTPHost != "" && c.Email.From == "" {
		return errors.New("Email From must be set when SMTPHost is configured")
	}

	// Change ticket
	if c.ChangeTicket.TTL <= 0 {
		return errors.New("ChangeTicket TTL must be > 0")
	}
	if c.ChangeTicket.SigningKey != "" && len(c.ChangeTicket.SigningKey) < 32 {
		return errors.New("ChangeTicket SigningKey must be at least 32 bytes")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Logging
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return errors.New("Logging Format must be json or console")
	}

	return nil
}
