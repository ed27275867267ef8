package smsratelimit

import "fmt"

// GlobalAccountKey is the registry and history key of the account ceiling.
// It can never pass ValidateIdentity, so it cannot collide with a sender.
const GlobalAccountKey = "GLOBAL_ACCOUNT"

const (
	minIdentityLength = 8
	maxIdentityLength = 15
)

// ValidateIdentity checks that s looks like an E.164 phone number: a '+'
// followed by digits, 8 to 15 characters in total.
func ValidateIdentity(s string) error {
	if s == "" {
		return fmt.Errorf("%w: phone number cannot be empty", ErrValidation)
	}
	if s[0] != '+' {
		return fmt.Errorf("%w: phone number must start with '+'", ErrValidation)
	}
	if len(s) < minIdentityLength || len(s) > maxIdentityLength {
		return fmt.Errorf("%w: phone number must be between %d and %d characters",
			ErrValidation, minIdentityLength, maxIdentityLength)
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: phone number must contain only digits after '+'", ErrValidation)
		}
	}
	return nil
}
