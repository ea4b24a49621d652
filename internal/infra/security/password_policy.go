package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	defaultMinPasswordLength   = 10
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
)

// PasswordPolicyError represents a single password policy violation.
type PasswordPolicyError struct {
	Code    string
	Message string
}

func (e *PasswordPolicyError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule validates a password against one policy requirement.
type PasswordRule func(password string) error

// PasswordPolicy applies a sequence of password rules.
type PasswordPolicy struct {
	rules []PasswordRule
}

// NewPasswordPolicy constructs a policy from the provided rules.
func NewPasswordPolicy(rules ...PasswordRule) *PasswordPolicy {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordPolicy{rules: copied}
}

// DefaultPasswordPolicy enforces length, character class, and zxcvbn strength
// checks. The optional user inputs (username, email, phone) are fed to the
// strength estimator so passwords derived from them are rejected.
func DefaultPasswordPolicy(userInputs ...string) *PasswordPolicy {
	inputs := make([]string, 0, len(userInputs))
	for _, input := range userInputs {
		if trimmed := strings.TrimSpace(input); trimmed != "" {
			inputs = append(inputs, trimmed)
		}
	}

	return NewPasswordPolicy(
		MinLengthRule(defaultMinPasswordLength),
		CharacterClassesRule(defaultMinCharacterClasses),
		StrengthRule(defaultMinZxcvbnScore, inputs...),
	)
}

// Validate executes all rules and returns the first encountered violation.
func (p *PasswordPolicy) Validate(password string) error {
	if p == nil {
		return fmt.Errorf("password policy not configured")
	}
	for _, rule := range p.rules {
		if err := rule(password); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return func(password string) error {
		if len([]rune(password)) < min {
			return &PasswordPolicyError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	}
}

// CharacterClassesRule ensures the password mixes at least min distinct
// character classes (upper, lower, digit, symbol).
func CharacterClassesRule(min int) PasswordRule {
	return func(password string) error {
		if min <= 0 {
			return nil
		}

		var hasUpper, hasLower, hasDigit, hasSymbol bool
		for _, r := range password {
			switch {
			case unicode.IsUpper(r):
				hasUpper = true
			case unicode.IsLower(r):
				hasLower = true
			case unicode.IsDigit(r):
				hasDigit = true
			case unicode.IsSymbol(r) || unicode.IsPunct(r):
				hasSymbol = true
			}
		}

		classes := 0
		for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
			if present {
				classes++
			}
		}

		if classes < min {
			return &PasswordPolicyError{
				Code:    "character_classes",
				Message: fmt.Sprintf("password must include at least %d character types", min),
			}
		}
		return nil
	}
}

// StrengthRule enforces a minimum zxcvbn score to reject weak passwords.
func StrengthRule(minScore int, userInputs ...string) PasswordRule {
	return func(password string) error {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		result := zxcvbn.PasswordStrength(password, userInputs)
		if result.Score >= minScore {
			return nil
		}

		return &PasswordPolicyError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	}
}
