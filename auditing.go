package goCred

import (
	"context"
	"errors"
	"fmt"
)

// ChangeTicketIssuer mints the ticket handed to a user whose credentials
// have expired.
type ChangeTicketIssuer interface {
	Issue(username string) (string, error)
}

// AuditingDecorator wraps the resolver with the outcome bookkeeping every
// login needs: the ledger row, the failure counter and lock, and the LOGIN
// session event. It is independent of how the caller renders the result.
type AuditingDecorator struct {
	resolver    *AuthenticationResolver
	ledger      *LoginAttemptLedger
	credentials *AccountCredentialService
	sessions    *SessionEventLogger
	tickets     ChangeTicketIssuer
	inst        *instruments
}

func newAuditingDecorator(
	resolver *AuthenticationResolver,
	ledger *LoginAttemptLedger,
	credentials *AccountCredentialService,
	sessions *SessionEventLogger,
	tickets ChangeTicketIssuer,
	inst *instruments,
) *AuditingDecorator {
	return &AuditingDecorator{
		resolver:    resolver,
		ledger:      ledger,
		credentials: credentials,
		sessions:    sessions,
		tickets:     tickets,
		inst:        inst,
	}
}

// Login authenticates creds and records the outcome.
//
// On ErrCredentialsExpired the returned result carries a change ticket and
// PasswordChangeRequired alongside the error. Ledger, counter and session
// write failures are returned; they are never swallowed.
func (d *AuditingDecorator) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	start := d.inst.clock()
	defer func() { d.inst.metricObserve(MetricAuthLatency, d.inst.clock().Sub(start)) }()

	account, method, authErr := d.resolver.Authenticate(ctx, creds)
	if authErr == nil {
		return d.succeed(ctx, creds.Username, account, method)
	}
	return d.fail(ctx, creds.Username, account, method, authErr)
}

func (d *AuditingDecorator) succeed(ctx context.Context, username string, account *Account, method AuthMethod) (LoginResult, error) {
	if _, err := d.ledger.RecordOutcome(ctx, username, nil); err != nil {
		return LoginResult{}, err
	}
	if err := d.credentials.clearFailures(ctx, account); err != nil {
		return LoginResult{}, err
	}
	if sessionID := sessionIDFromContext(ctx); sessionID != "" {
		if _, err := d.sessions.LogLogin(ctx, sessionID, account); err != nil {
			return LoginResult{}, err
		}
	}

	d.inst.metricInc(MetricLoginSuccess)
	d.inst.emitAudit(ctx, AuditLoginSuccess, true, account, username, nil, map[string]string{"method": string(method)})
	return LoginResult{Account: account, Method: method}, nil
}

func (d *AuditingDecorator) fail(ctx context.Context, username string, account *Account, method AuthMethod, authErr error) (LoginResult, error) {
	if _, err := d.ledger.RecordOutcome(ctx, username, authErr); err != nil {
		return LoginResult{}, errors.Join(authErr, err)
	}
	d.inst.metricInc(MetricLoginFailure)
	d.inst.emitAudit(ctx, AuditLoginFailure, false, account, username, authErr, nil)

	switch {
	case errors.Is(authErr, ErrBadCredentials):
		d.inst.metricInc(MetricLoginBadCredentials)
		if _, err := d.credentials.IncrementFailedAttempts(ctx, username); err != nil {
			return LoginResult{}, errors.Join(authErr, err)
		}
	case errors.Is(authErr, ErrCredentialsExpired):
		d.inst.metricInc(MetricLoginCredentialsExpired)
		result := LoginResult{Account: account, Method: method, PasswordChangeRequired: true}
		if d.tickets != nil {
			ticket, err := d.tickets.Issue(username)
			if err != nil {
				return LoginResult{}, errors.Join(authErr, fmt.Errorf("issue change ticket: %w", err))
			}
			result.ChangeTicket = ticket
		}
		return result, authErr
	case errors.Is(authErr, ErrDirectorySearchFailed):
		d.inst.metricInc(MetricDirectoryFailure)
	}
	return LoginResult{}, authErr
}
