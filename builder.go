package goCred

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/passphrase"
	"github.com/MrEthical07/goCred/password"
)

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config

	store      CredentialStore
	hasher     password.Hasher
	directory  Directory
	mailer     Mailer
	logger     *zap.Logger
	auditSink  AuditSink
	dictionary *passphrase.Dictionary
	now        func() time.Time

	built bool
}

// New returns a Builder with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. The default is a MemoryStore.
func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithHasher overrides the hasher selected by Config.Password.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithDirectory sets the directory used when LDAP is enabled.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithMailer sets the email transport. Without one, an SMTPMailer is used
// when Config.Email.SMTPHost is set; otherwise emails are logged as dry runs.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithLogger sets the zap logger. The default discards output.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink used when auditing is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithDictionary sets the passphrase dictionary, overriding
// Config.PasswordGeneration.Dictionary.
func (b *Builder) WithDictionary(d *passphrase.Dictionary) *Builder {
	b.dictionary = d
	return b
}

// WithNow overrides the clock.
func (b *Builder) WithNow(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the authentication latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Authentication.LDAPEnabled && b.directory == nil {
		return nil, errors.New("LDAP authentication requires a directory")
	}

	store := b.store
	if store == nil {
		store = NewMemoryStore()
	}

	// -------- INSTRUMENTS --------
	inst := newInstruments(b.logger, b.now)
	inst.metrics = NewMetrics(cfg.Metrics)
	inst.audit = newAuditDispatcher(cfg.Audit, b.auditSink)

	// -------- HASHER --------
	hasher := b.hasher
	if hasher == nil {
		h, err := newConfiguredHasher(cfg.Password)
		if err != nil {
			inst.audit.Close()
			return nil, err
		}
		hasher = h
	}

	// -------- GENERATOR --------
	var generator *passphrase.Generator
	if cfg.GeneratorEnabled() {
		dict := b.dictionary
		if dict == nil {
			d, err := passphrase.LoadDictionary(cfg.PasswordGeneration.Dictionary)
			if err != nil {
				inst.audit.Close()
				return nil, fmt.Errorf("load dictionary: %w", err)
			}
			dict = d
		}
		g, err := passphrase.NewGenerator(dict, cfg.PasswordGeneration.generator())
		if err != nil {
			inst.audit.Close()
			return nil, err
		}
		generator = g
	}

	// -------- CHANGE TICKETS --------
	key := []byte(cfg.ChangeTicket.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			inst.audit.Close()
			return nil, fmt.Errorf("generate change ticket key: %w", err)
		}
	}
	tickets, err := jwt.NewManager(jwt.Config{
		TTL:        cfg.ChangeTicket.TTL,
		PrivateKey: key,
		Issuer:     cfg.ChangeTicket.Issuer,
		Now:        inst.now,
	})
	if err != nil {
		inst.audit.Close()
		return nil, err
	}

	// -------- COMPONENTS --------
	engine := &Engine{
		config:  cfg,
		store:   store,
		inst:    inst,
		tickets: tickets,
	}
	engine.ledger = newLoginAttemptLedger(store, inst)
	engine.resetTokens = newPasswordResetTokenManager(store, inst)
	mailer := b.mailer
	if mailer == nil && cfg.Email.SMTPHost != "" {
		mailer = NewSMTPMailer(cfg.Email)
	}
	engine.notifier = newNotifier(mailer, cfg.Email, cfg.Application, inst)
	engine.credentials = newAccountCredentialService(store, engine.resetTokens, hasher, generator, engine.notifier, cfg, inst)
	engine.sessions = newSessionEventLogger(store, inst)
	engine.generator = generator

	var strategies []AuthStrategy
	if cfg.Authentication.TableBasedEnabled {
		strategies = append(strategies, NewTableStrategy(store, hasher, inst.now))
	}
	if cfg.Authentication.LDAPEnabled {
		strategies = append(strategies, NewDirectoryStrategy(b.directory, store, inst.now))
	}
	engine.resolver = NewAuthenticationResolver(strategies...)
	engine.assertions = newAssertionValidator(cfg.SAML, store, inst)
	engine.decorator = newAuditingDecorator(engine.resolver, engine.ledger, engine.credentials, engine.sessions, tickets, inst)

	b.built = true

	return engine, nil
}

// NewHasher returns the hasher an Engine built from cfg would use.
func NewHasher(cfg PasswordConfig) (password.Hasher, error) {
	return newConfiguredHasher(cfg)
}

// newConfiguredHasher builds the configured primary hasher. Argon2id
// deployments still verify legacy bcrypt rows.
func newConfiguredHasher(cfg PasswordConfig) (password.Hasher, error) {
	primary, err := password.New(cfg.Algorithm, cfg.argon2(), cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	if cfg.Algorithm == password.AlgorithmBcrypt {
		return primary, nil
	}
	legacy, err := password.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return password.Multi{Primary: primary, Fallback: []password.Hasher{legacy}}, nil
}
