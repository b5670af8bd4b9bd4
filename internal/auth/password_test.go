package auth

import (
	"errors"
	"strings"
	"testing"

	"eadash.io/internal/errs"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !VerifyPassword(hash, "correct horse") {
		t.Fatal("expected password to verify")
	}
	if VerifyPassword(hash, "Correct horse") {
		t.Fatal("expected a different password to fail")
	}
	if VerifyPassword("", "correct horse") {
		t.Fatal("an empty hash never verifies")
	}
}

func TestHashPasswordRejectsUnusableInput(t *testing.T) {
	for _, pw := range []string{"", strings.Repeat("x", 73)} {
		if _, err := HashPassword(pw); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("HashPassword(%d bytes) err = %v, want ErrInvalidInput", len(pw), err)
		}
	}
}
