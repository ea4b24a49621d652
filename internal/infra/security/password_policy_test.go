package security

import (
	"errors"
	"testing"
)

func TestDefaultPasswordPolicyAcceptsStrongPassword(t *testing.T) {
	policy := DefaultPasswordPolicy("amara", "amara@coop.example.com")

	if err := policy.Validate("Quartz!Traverse88"); err != nil {
		t.Fatalf("strong password rejected: %v", err)
	}
}

func TestDefaultPasswordPolicyRejectsShortPassword(t *testing.T) {
	policy := DefaultPasswordPolicy()

	err := policy.Validate("Ab1!x")
	var violation *PasswordPolicyError
	if !errors.As(err, &violation) {
		t.Fatalf("expected PasswordPolicyError, got %v", err)
	}
	if violation.Code != "min_length" {
		t.Fatalf("code = %q, want min_length", violation.Code)
	}
}

func TestDefaultPasswordPolicyRejectsSingleClass(t *testing.T) {
	policy := DefaultPasswordPolicy()

	err := policy.Validate("aaaaaaaaaaaaaaaa")
	var violation *PasswordPolicyError
	if !errors.As(err, &violation) {
		t.Fatalf("expected PasswordPolicyError, got %v", err)
	}
	if violation.Code != "character_classes" {
		t.Fatalf("code = %q, want character_classes", violation.Code)
	}
}

func TestDefaultPasswordPolicyRejectsWeakPattern(t *testing.T) {
	policy := DefaultPasswordPolicy()

	err := policy.Validate("Password123!")
	var violation *PasswordPolicyError
	if !errors.As(err, &violation) {
		t.Fatalf("expected PasswordPolicyError, got %v", err)
	}
	if violation.Code != "weak_password" {
		t.Fatalf("code = %q, want weak_password", violation.Code)
	}
}

func TestDefaultPasswordPolicyRejectsUserDerivedPassword(t *testing.T) {
	policy := DefaultPasswordPolicy("amara.okafor", "amara@coop.example.com")

	err := policy.Validate("Amara.okafor1!")
	var violation *PasswordPolicyError
	if !errors.As(err, &violation) {
		t.Fatalf("expected PasswordPolicyError, got %v", err)
	}
	if violation.Code != "weak_password" {
		t.Fatalf("code = %q, want weak_password", violation.Code)
	}
}

func TestMinLengthRuleCountsRunes(t *testing.T) {
	rule := MinLengthRule(5)
	if err := rule("ありがとう"); err != nil {
		t.Fatalf("five runes rejected: %v", err)
	}
	if err := rule("abcd"); err == nil {
		t.Fatal("four characters must be rejected")
	}
}
