package password

import (
	"strings"
	"unicode/utf8"
)

// Reason identifies a single password policy violation.
type Reason string

const (
	ReasonTooShort                    Reason = "TOO_SHORT"
	ReasonInsufficientAlphabetical    Reason = "INSUFFICIENT_ALPHABETICAL"
	ReasonInsufficientDigit           Reason = "INSUFFICIENT_DIGIT"
	ReasonInsufficientCharacteristics Reason = "INSUFFICIENT_CHARACTERISTICS"
	ReasonContainsUsername            Reason = "CONTAINS_USERNAME"
	ReasonCurrentPasswordIncorrect    Reason = "CURRENT_PASSWORD_INCORRECT"
	ReasonMustNotReuseCurrent         Reason = "MUST_NOT_USE_CURRENT_PASSWORD"
	ReasonConfirmMismatch             Reason = "NEW_AND_CONFIRM_PASSWORDS_MISMATCH"
)

// InvalidPasswordMessage is shown for a reason without a dedicated message.
const InvalidPasswordMessage = "The password does not meet all of the requirements."

var reasonMessages = map[Reason]string{
	ReasonTooShort:                    "Password too short.",
	ReasonInsufficientAlphabetical:    "Missing a letter.",
	ReasonInsufficientDigit:           "Missing a number.",
	ReasonInsufficientCharacteristics: "Missing an additional capital letter OR a special character.",
	ReasonContainsUsername:            "Passwords must not include username",
	ReasonCurrentPasswordIncorrect:    "Current password incorrect.",
	ReasonMustNotReuseCurrent:         "Must not use current password",
	ReasonConfirmMismatch:             "New and Confirm passwords don't match.",
}

// Message returns the end-user text for r.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return InvalidPasswordMessage
}

func (r Reason) String() string { return string(r) }

// Messages maps reasons to their end-user text, preserving order.
func Messages(reasons []Reason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, r.Message())
	}
	return out
}

// SpecialCharacters is the ASCII punctuation set counted as "special".
const SpecialCharacters = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// DefaultMinLength is the minimum password length in characters.
const DefaultMinLength = 8

// Subject is the account context a candidate password is checked against.
// An empty PasswordHash means the account has no local password.
type Subject struct {
	Username     string
	PasswordHash string
}

// PolicyValidator evaluates the password rules. Every rule is evaluated so
// callers can show all violations at once.
//
// The zero value is not usable; construct with NewPolicyValidator.
type PolicyValidator struct {
	hasher    Hasher
	minLength int
}

// NewPolicyValidator returns a validator that uses h for the contextual
// current-password rules. h may be nil when only complexity is checked.
func NewPolicyValidator(h Hasher) *PolicyValidator {
	return &PolicyValidator{hasher: h, minLength: DefaultMinLength}
}

// Validate checks candidate against the account rules and the complexity
// rules. current is the plaintext the user claims as their current password;
// nil skips the current-password check (reset flows).
//
// The username rule is a case-sensitive substring match.
func (v *PolicyValidator) Validate(candidate string, subject Subject, current *string) []Reason {
	var reasons []Reason

	if current != nil && !Matches(v.hasher, *current, subject.PasswordHash) {
		reasons = append(reasons, ReasonCurrentPasswordIncorrect)
	}
	if subject.Username != "" && strings.Contains(candidate, subject.Username) {
		reasons = append(reasons, ReasonContainsUsername)
	}
	if Matches(v.hasher, candidate, subject.PasswordHash) {
		reasons = append(reasons, ReasonMustNotReuseCurrent)
	}

	return append(reasons, v.CheckComplexity(candidate)...)
}

// CheckComplexity applies only the account-independent rules.
func (v *PolicyValidator) CheckComplexity(candidate string) []Reason {
	var reasons []Reason

	minLength := DefaultMinLength
	if v != nil && v.minLength > 0 {
		minLength = v.minLength
	}
	if utf8.RuneCountInString(candidate) < minLength {
		reasons = append(reasons, ReasonTooShort)
	}

	var alpha, digit, upper, special bool
	for _, r := range candidate {
		switch {
		case r >= 'A' && r <= 'Z':
			alpha, upper = true, true
		case r >= 'a' && r <= 'z':
			alpha = true
		case r >= '0' && r <= '9':
			digit = true
		case r < utf8.RuneSelf && strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}

	if !alpha {
		reasons = append(reasons, ReasonInsufficientAlphabetical)
	}
	if !digit {
		reasons = append(reasons, ReasonInsufficientDigit)
	}
	if !upper && !special {
		reasons = append(reasons, ReasonInsufficientCharacteristics)
	}

	return reasons
}
