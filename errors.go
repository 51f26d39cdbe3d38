package goCred

import (
	"errors"
	"fmt"
)

var (
	// ErrBadCredentials is returned when the username or password is wrong.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrAccountLocked is returned for accounts locked after too many failures.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for administratively disabled accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountExpired is returned once the account expiry instant has passed.
	ErrAccountExpired = errors.New("account expired")
	// ErrCredentialsExpired is returned when the password must be changed first.
	ErrCredentialsExpired = errors.New("credentials expired")
	// ErrGroupMembershipDenied is returned when an asserted identity lacks the required group.
	ErrGroupMembershipDenied = errors.New("group membership denied")
	// ErrDirectorySearchFailed is returned when the directory could not be searched.
	ErrDirectorySearchFailed = errors.New("directory search failed")
	// ErrAccessNotGranted is returned when an asserted identity has no usable local account.
	ErrAccessNotGranted = errors.New("access not granted")
	// ErrTokenInvalid is returned for unknown or inactive reset tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTicketInvalid is returned for malformed or expired password change tickets.
	ErrTicketInvalid = errors.New("invalid password change ticket")
	// ErrDuplicateEmail is returned when another account already owns the email.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrInvalidUsername is returned when a username does not match the configured style.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrNotFound is returned by stores when nothing matches a lookup.
	ErrNotFound = errors.New("not found")
	// ErrPasswordGenerationDisabled is returned when temporary passwords are not enabled.
	ErrPasswordGenerationDisabled = errors.New("password generation disabled")
	// ErrNotTableBased is returned when a local password operation targets an external account.
	ErrNotTableBased = errors.New("account is not table based")
	// ErrUserManagement classifies failures surfaced through UserManagementError.
	ErrUserManagement = errors.New("user management failure")
	// ErrRateLimited is returned when reset emails are requested too often.
	ErrRateLimited = errors.New("rate limited")
	// ErrEngineNotReady is returned by a zero or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// GenericErrorMessage is shown to users in place of unexpected failures.
const GenericErrorMessage = "An error occurred. If this continues please contact your administrator."

// UserManagementError carries a user-safe message for a failed account
// operation. Err holds the detailed cause for logs.
type UserManagementError struct {
	Message string
	Err     error
}

func (e *UserManagementError) Error() string {
	return e.Message
}

// Unwrap exposes the cause and the ErrUserManagement classification.
func (e *UserManagementError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUserManagement}
	}
	return []error{ErrUserManagement, e.Err}
}

// AuthenticationError is a login failure with a specific message for the
// end user, such as a SAML group rejection.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

func userError(message string, err error) error {
	return &UserManagementError{Message: message, Err: err}
}

func notFound(kind, key string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, key)
}

var errorTypes = []struct {
	err  error
	name string
}{
	{ErrBadCredentials, "BadCredentials"},
	{ErrAccountLocked, "AccountLocked"},
	{ErrAccountDisabled, "AccountDisabled"},
	{ErrAccountExpired, "AccountExpired"},
	{ErrCredentialsExpired, "CredentialsExpired"},
	{ErrGroupMembershipDenied, "GroupMembershipDenied"},
	{ErrDirectorySearchFailed, "DirectorySearchFailed"},
	{ErrAccessNotGranted, "AccessNotGranted"},
	{ErrTokenInvalid, "TokenInvalid"},
	{ErrTicketInvalid, "TicketInvalid"},
	{ErrDuplicateEmail, "DuplicateEmail"},
	{ErrInvalidUsername, "InvalidUsername"},
}

// ErrorType returns the stable classification name recorded on failed
// login attempts. Unclassified errors map to "InternalError".
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorTypes {
		if errors.Is(err, e.err) {
			return e.name
		}
	}
	return "InternalError"
}

// ErrorMessage returns the user-facing message for an authentication
// failure.
func ErrorMessage(err error) string {
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.Message
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBadCredentials):
		return "Bad credentials"
	case errors.Is(err, ErrAccountLocked):
		return "User account is locked"
	case errors.Is(err, ErrAccountDisabled):
		return "User is disabled"
	case errors.Is(err, ErrAccountExpired):
		return "User account has expired"
	case errors.Is(err, ErrCredentialsExpired):
		return "User credentials have expired"
	case errors.Is(err, ErrDirectorySearchFailed):
		return "Unable to search the directory"
	}
	var ume *UserManagementError
	if errors.As(err, &ume) {
		return ume.Message
	}
	return err.Error()
}
