package auth

import (
	"strings"
	"testing"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}
	if !CheckPasswordHash("correct horse battery staple", hash) {
		t.Error("correct password rejected")
	}
	if CheckPasswordHash("wrong password", hash) {
		t.Error("wrong password accepted")
	}
}

func TestCheckPasswordHashGarbage(t *testing.T) {
	if CheckPasswordHash("anything", "not-a-bcrypt-hash") {
		t.Error("garbage hash accepted")
	}
	if CheckPasswordHash("anything", "") {
		t.Error("empty hash accepted")
	}
}

func TestValidatePasswordComplexity(t *testing.T) {
	if err := ValidatePasswordComplexity("short"); err == nil {
		t.Error("expected error for short password")
	}
	if err := ValidatePasswordComplexity("long enough password"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePasswordComplexity(strings.Repeat("x", MaxPasswordLength)); err != nil {
		t.Errorf("boundary-length password rejected: %v", err)
	}
	if err := ValidatePasswordComplexity(strings.Repeat("x", MaxPasswordLength+1)); err == nil {
		t.Error("expected error for oversized password: bcrypt would truncate it")
	}
}
