package security

import "testing"

func TestGenerateNumericCodeLengthAndCharset(t *testing.T) {
	code, err := GenerateNumericCode(6)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code length = %d, want 6", len(code))
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code %q contains non-digit %q", code, r)
		}
	}
}

func TestGenerateNumericCodeRejectsNonPositiveLength(t *testing.T) {
	if _, err := GenerateNumericCode(0); err == nil {
		t.Fatal("expected an error for zero length")
	}
}

func TestGenerateSecureTokenUnique(t *testing.T) {
	first, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	second, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if first == second {
		t.Fatal("two tokens must differ")
	}
	if len(first) == 0 {
		t.Fatal("token must not be empty")
	}
}

func TestSecretMatches(t *testing.T) {
	hash := HashSecret("482913")

	if hash == "482913" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !SecretMatches("482913", hash) {
		t.Fatal("matching secret must verify")
	}
	if SecretMatches("000000", hash) {
		t.Fatal("wrong secret must not verify")
	}
	if SecretMatches("", hash) {
		t.Fatal("empty secret must not verify")
	}
	if SecretMatches("482913", "") {
		t.Fatal("empty hash must not verify")
	}
}
