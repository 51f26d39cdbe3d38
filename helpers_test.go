package goCred

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// plainHasher stores "plain:<secret>" so engine tests stay fast.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "plain:" + p, nil }

func (plainHasher) Verify(p, encoded string) (bool, error) {
	return encoded == "plain:"+p, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func strPtr(s string) *string { return &s }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Email.DryRun = true
	cfg.Email.Required = false
	cfg.Application.URL = "https://cred.example.test"
	cfg.Metrics.Enabled = true
	return cfg
}

type testEngine struct {
	*Engine
	store *MemoryStore
	clock *testClock
	logs  *observer.ObservedLogs
}

type engineOptions struct {
	wrap func(*MemoryStore) CredentialStore
	opts []func(*Builder)
}

type engineOption func(o *engineOptions)

func withDirectory(d Directory) engineOption {
	return func(o *engineOptions) { o.opts = append(o.opts, func(b *Builder) { b.WithDirectory(d) }) }
}

// withStoreWrapper builds the engine over wrap(store) while tests keep
// direct access to the underlying MemoryStore.
func withStoreWrapper(wrap func(*MemoryStore) CredentialStore) engineOption {
	return func(o *engineOptions) { o.wrap = wrap }
}

func withSink(s AuditSink) engineOption {
	return func(o *engineOptions) { o.opts = append(o.opts, func(b *Builder) { b.WithAuditSink(s) }) }
}

func withMailer(m Mailer) engineOption {
	return func(o *engineOptions) { o.opts = append(o.opts, func(b *Builder) { b.WithMailer(m) }) }
}

func newTestEngine(t testing.TB, cfg Config, opts ...engineOption) *testEngine {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	clock := newTestClock()
	store := NewMemoryStore()
	store.now = clock.Now

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	var backing CredentialStore = store
	if o.wrap != nil {
		backing = o.wrap(store)
	}

	b := New().
		WithConfig(cfg).
		WithStore(backing).
		WithHasher(plainHasher{}).
		WithLogger(zap.New(core)).
		WithNow(clock.Now)
	for _, opt := range o.opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, store: store, clock: clock, logs: logs}
}

// seed stores a healthy table-based account with password.
func (te *testEngine) seed(t testing.TB, username, password string, mutate ...func(*Account)) *Account {
	t.Helper()

	expires := te.clock.Now().Add(90 * 24 * time.Hour)
	a := &Account{
		Username:            username,
		Email:               username + "@example.test",
		FirstName:           "Test",
		LastName:            "User",
		Enabled:             true,
		AuthMethod:          AuthTableBased,
		CredentialsExpireAt: &expires,
	}
	if password != "" {
		a.PasswordHash = "plain:" + password
	}
	for _, m := range mutate {
		m(a)
	}
	if err := te.store.SaveAccount(context.Background(), a); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return a
}

func (te *testEngine) account(t *testing.T, id string) *Account {
	t.Helper()
	a, err := te.store.FindAccountByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return a
}

// interfaceOnlyStore hides the optional capabilities of the wrapped store so
// the fallback paths run.
type interfaceOnlyStore struct {
	CredentialStore
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

type sentMail struct {
	From, To, Subject, Body string
}

func (m *recordingMailer) Send(ctx context.Context, from, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{From: from, To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}
