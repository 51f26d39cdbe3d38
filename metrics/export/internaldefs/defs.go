package internaldefs

import (
	goCred "github.com/MrEthical07/goCred"
)

// CounterDef binds a goCred counter to its exported name.
type CounterDef struct {
	ID   goCred.MetricID
	Name string
	Help string
}

// HistogramDef binds a goCred histogram to its exported name.
type HistogramDef struct {
	ID   goCred.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: goCred.MetricLoginSuccess, Name: "gocred_login_success_total", Help: "Successful logins."},
	{ID: goCred.MetricLoginFailure, Name: "gocred_login_failure_total", Help: "Failed logins of any classification."},
	{ID: goCred.MetricLoginBadCredentials, Name: "gocred_login_bad_credentials_total", Help: "Logins rejected for bad credentials."},
	{ID: goCred.MetricLoginCredentialsExpired, Name: "gocred_login_credentials_expired_total", Help: "Logins diverted to the expired password change flow."},
	{ID: goCred.MetricAccountLocked, Name: "gocred_account_locked_total", Help: "Accounts locked by the consecutive failure counter."},
	{ID: goCred.MetricAccountUnlocked, Name: "gocred_account_unlocked_total", Help: "Administrative account unlocks."},
	{ID: goCred.MetricDirectoryFailure, Name: "gocred_directory_failure_total", Help: "Directory searches that failed."},
	{ID: goCred.MetricAssertionAccepted, Name: "gocred_assertion_accepted_total", Help: "SAML assertions admitted."},
	{ID: goCred.MetricAssertionRejected, Name: "gocred_assertion_rejected_total", Help: "SAML assertions rejected after validation."},
	{ID: goCred.MetricPasswordChangeSuccess, Name: "gocred_password_change_success_total", Help: "Applied password changes."},
	{ID: goCred.MetricPasswordChangeRejected, Name: "gocred_password_change_rejected_total", Help: "Password changes refused by the policy."},
	{ID: goCred.MetricPasswordResetSuccess, Name: "gocred_password_reset_success_total", Help: "Applied token resets."},
	{ID: goCred.MetricPasswordResetInvalidToken, Name: "gocred_password_reset_invalid_token_total", Help: "Resets presenting an unknown or inactive token."},
	{ID: goCred.MetricResetTokenIssued, Name: "gocred_reset_token_issued_total", Help: "Issued reset tokens."},
	{ID: goCred.MetricResetTokenBurned, Name: "gocred_reset_token_burned_total", Help: "Burned reset tokens."},
	{ID: goCred.MetricTemporaryPassword, Name: "gocred_temporary_password_total", Help: "Generated temporary passwords."},
	{ID: goCred.MetricSessionLogin, Name: "gocred_session_login_total", Help: "Recorded session LOGIN events."},
	{ID: goCred.MetricSessionLogout, Name: "gocred_session_logout_total", Help: "Recorded session LOGOUT events."},
	{ID: goCred.MetricSessionImpersonation, Name: "gocred_session_impersonation_total", Help: "Recorded session IMPERSONATION events."},
	{ID: goCred.MetricSessionDuplicate, Name: "gocred_session_duplicate_total", Help: "Session events skipped as duplicates."},
	{ID: goCred.MetricEmailSent, Name: "gocred_email_sent_total", Help: "Delivered notification emails."},
	{ID: goCred.MetricEmailDryRun, Name: "gocred_email_dry_run_total", Help: "Notification emails logged instead of sent."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goCred.MetricAuthLatency, Name: "gocred_auth_latency_seconds", Help: "Login latency histogram."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const (
	AuditDroppedName = "gocred_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters
// that publish one instrument per bucket.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
