package goCred

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestUsernameStyleCheck(t *testing.T) {
	tests := []struct {
		style    UsernameStyle
		username string
		wantErr  bool
	}{
		{UsernamePlain, "alice", false},
		{UsernamePlain, "alice@example.test", true},
		{UsernamePlain, "al@ice", true},
		{UsernameEmail, "alice@example.test", false},
		{UsernameEmail, "alice", true},
		{UsernameMixed, "alice", false},
		{UsernameMixed, "alice@example.test", false},
		{UsernameMixed, "  ", true},
	}
	for _, tt := range tests {
		err := tt.style.Check(tt.username)
		if tt.wantErr && !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("%s %q: expected ErrInvalidUsername, got %v", tt.style, tt.username, err)
		}
		if !tt.wantErr && err != nil {
			t.Fatalf("%s %q: expected no error, got %v", tt.style, tt.username, err)
		}
	}
}

func TestAccountStanding(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Hour)

	healthy := &Account{Enabled: true, CredentialsExpireAt: &future}
	if !healthy.InGoodStanding(now) {
		t.Fatal("expected healthy account in good standing")
	}

	atBoundary := &Account{Enabled: true, CredentialsExpireAt: &now}
	if !atBoundary.CredentialsExpiredAt(now) {
		t.Fatal("expected credentials expired at the boundary instant")
	}

	expired := &Account{Enabled: true, AccountExpiresAt: &past}
	if !expired.AccountExpired(now) {
		t.Fatal("expected account expired")
	}

	both := &Account{Locked: true, Enabled: false}
	if err := both.standingError(now); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lock reported first, got %v", err)
	}
}

func TestErrorTypeAndMessage(t *testing.T) {
	wrapped := fmt.Errorf("%w: ldap timeout", ErrDirectorySearchFailed)
	if ErrorType(wrapped) != "DirectorySearchFailed" {
		t.Fatalf("expected DirectorySearchFailed, got %s", ErrorType(wrapped))
	}
	if ErrorMessage(wrapped) != "Unable to search the directory" {
		t.Fatalf("unexpected message %q", ErrorMessage(wrapped))
	}
	if ErrorType(errors.New("boom")) != "InternalError" {
		t.Fatal("expected InternalError for unclassified errors")
	}
	if ErrorType(nil) != "" {
		t.Fatal("expected empty type for nil")
	}

	ume := userError("Nope.", ErrDuplicateEmail)
	if !errors.Is(ume, ErrUserManagement) || !errors.Is(ume, ErrDuplicateEmail) {
		t.Fatal("expected UserManagementError to match both sentinels")
	}
	if ErrorMessage(&AuthenticationError{Message: "custom", Err: ErrBadCredentials}) != "custom" {
		t.Fatal("expected AuthenticationError message")
	}
}

func TestResetTokenActiveAtNilSafe(t *testing.T) {
	var tok *PasswordResetToken
	if tok.ActiveAt(time.Now()) {
		t.Fatal("expected nil token inactive")
	}
}
