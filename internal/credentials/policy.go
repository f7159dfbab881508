package credentials

import (
	"strings"
	"unicode"
)

// MinPasswordLength is the floor applied to every new password.
const MinPasswordLength = 12

// PolicyError reports every rule a candidate password broke, in the order
// the rules are checked.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password policy violated: " + strings.Join(e.Violations, "; ")
}

// CheckPassword validates a candidate password against the account policy.
// It returns a *PolicyError listing every violation, or nil when the
// password is acceptable.
func CheckPassword(password string) error {
	var violations []string

	if len(password) < MinPasswordLength {
		violations = append(violations, "must be at least 12 characters long")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if !hasSpecial {
		violations = append(violations, "must contain a special character")
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}
