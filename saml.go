package goCred

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Assertion is an identity already authenticated by the federation
// provider. Attributes are keyed by the names configured in SAMLConfig.
type Assertion struct {
	RegistrationID string
	NameID         string
	Attributes     map[string][]string
}

// AssertedIdentity is the attribute set extracted from an Assertion.
type AssertedIdentity struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Groups    []string
	HasGroups bool
}

// AssertionValidator runs the post-assertion checks: required group
// membership and local account standing.
type AssertionValidator struct {
	cfg      SAMLConfig
	accounts AccountStore
	inst     *instruments
}

func newAssertionValidator(cfg SAMLConfig, accounts AccountStore, inst *instruments) *AssertionValidator {
	return &AssertionValidator{cfg: cfg, accounts: accounts, inst: inst}
}

// Extract reads the configured attributes from a. The username falls back
// to the NameID when the user id attribute is absent.
func (v *AssertionValidator) Extract(a Assertion) AssertedIdentity {
	id := AssertedIdentity{
		Username:  first(a.Attributes, v.cfg.UserIDAttribute),
		Email:     first(a.Attributes, v.cfg.EmailAttribute),
		FirstName: first(a.Attributes, v.cfg.FirstNameAttribute),
		LastName:  first(a.Attributes, v.cfg.LastNameAttribute),
	}
	if id.Username == "" {
		id.Username = strings.TrimSpace(a.NameID)
	}
	if groups, ok := a.Attributes[v.cfg.GroupAttribute]; ok && v.cfg.GroupAttribute != "" {
		id.Groups = groups
		id.HasGroups = true
	}
	return id
}

// Validate applies the group and account checks to a and returns the local
// account. With ProvisionAccounts an unknown user is created; without
// ValidateDatabase an unknown user is admitted with an unsaved account.
func (v *AssertionValidator) Validate(ctx context.Context, a Assertion) (AssertedIdentity, *Account, error) {
	id := v.Extract(a)
	if id.Username == "" {
		return id, nil, &AuthenticationError{Message: "The identity provider did not supply a username.", Err: ErrBadCredentials}
	}

	if err := v.checkGroup(id); err != nil {
		return id, nil, err
	}

	account, err := v.accounts.FindAccountByUsername(ctx, id.Username)
	switch {
	case errors.Is(err, ErrNotFound):
		account = nil
	case err != nil:
		return id, nil, err
	}

	if account == nil {
		switch {
		case v.cfg.ProvisionAccounts:
			account, err = v.provision(ctx, id)
			if err != nil {
				return id, nil, err
			}
		case v.cfg.ValidateDatabase:
			return id, nil, &AuthenticationError{
				Message: fmt.Sprintf("%s has not been granted access to this application.", id.Username),
				Err:     ErrAccessNotGranted,
			}
		default:
			account = identityAccount(id)
		}
	}

	if v.cfg.ValidateDatabase && account.ID != "" {
		now := v.inst.clock()
		switch {
		case account.Locked:
			return id, account, ErrAccountLocked
		case !account.Enabled:
			return id, account, ErrAccountDisabled
		case account.AccountExpired(now):
			return id, account, ErrAccountExpired
		}
	}
	return id, account, nil
}

func (v *AssertionValidator) checkGroup(id AssertedIdentity) error {
	group := v.cfg.RequiredGroup
	if group == "" {
		return nil
	}
	if !id.HasGroups {
		v.inst.log().Warn("assertion carries no group attribute",
			zap.String("username", id.Username), zap.String("attribute", v.cfg.GroupAttribute))
	}
	for _, g := range id.Groups {
		if g == group {
			return nil
		}
	}
	return &AuthenticationError{
		Message: fmt.Sprintf("%s is not a member of %s", id.Username, group),
		Err:     ErrGroupMembershipDenied,
	}
}

func (v *AssertionValidator) provision(ctx context.Context, id AssertedIdentity) (*Account, error) {
	account := identityAccount(id)
	account.ID = uuid.NewString()
	if err := v.accounts.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("provision %s: %w", id.Username, err)
	}
	v.inst.emitAudit(ctx, AuditAccountSaved, true, account, "", nil, map[string]string{"source": "saml"})
	return account, nil
}

func identityAccount(id AssertedIdentity) *Account {
	return &Account{
		Username:   id.Username,
		Email:      id.Email,
		FirstName:  id.FirstName,
		LastName:   id.LastName,
		Enabled:    true,
		AuthMethod: AuthSAML,
	}
}

func first(attrs map[string][]string, name string) string {
	if name == "" {
		return ""
	}
	for _, v := range attrs[name] {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// AcceptAssertion validates a and records the outcome under the asserted
// username. An assertion without a username leaves no ledger row. On
// success a stored account's failure counter is cleared and the LOGIN
// session event is recorded when ctx carries a session id.
func (d *AuditingDecorator) AcceptAssertion(ctx context.Context, v *AssertionValidator, a Assertion) (LoginResult, error) {
	id, account, authErr := v.Validate(ctx, a)
	if authErr != nil {
		if id.Username == "" {
			d.inst.log().Warn("assertion rejected without a username, no login attempt recorded",
				zap.String("registration_id", a.RegistrationID))
		} else if _, err := d.ledger.RecordOutcome(ctx, id.Username, authErr); err != nil {
			return LoginResult{}, errors.Join(authErr, err)
		}
		d.inst.metricInc(MetricAssertionRejected)
		d.inst.emitAudit(ctx, AuditAssertionRejected, false, account, id.Username, authErr, map[string]string{
			"registration_id": a.RegistrationID,
		})
		return LoginResult{}, authErr
	}

	if _, err := d.ledger.RecordOutcome(ctx, id.Username, nil); err != nil {
		return LoginResult{}, err
	}
	if account.ID != "" {
		if err := d.credentials.clearFailures(ctx, account); err != nil {
			return LoginResult{}, err
		}
		if sessionID := sessionIDFromContext(ctx); sessionID != "" {
			if _, err := d.sessions.LogLogin(ctx, sessionID, account); err != nil {
				return LoginResult{}, err
			}
		}
	}
	d.inst.metricInc(MetricAssertionAccepted)
	d.inst.emitAudit(ctx, AuditLoginSuccess, true, account, id.Username, nil, map[string]string{"method": string(AuthSAML)})
	return LoginResult{Account: account, Method: AuthSAML}, nil
}
