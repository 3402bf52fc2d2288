package security

import (
	"errors"
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	h, err := NewArgon2Hasher(Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return h
}

func TestArgon2HashAndVerify(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != Argon2Algorithm || parts[1] != argon2Version {
		t.Fatalf("unexpected hash format: %q", encoded)
	}
	if parts[2] != "m=8192,t=1,p=1" {
		t.Fatalf("encoded hash does not reflect parameters: %s", parts[2])
	}

	ok, err := h.Verify("correct horse battery staple", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}

	ok, err = h.Verify("Tr0ub4dor&3", encoded)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v", ok, err)
	}
}

func TestArgon2VerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher(t)

	if _, err := h.Verify("password", "salt:hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
	if _, err := h.Verify("password", "bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"); err == nil {
		t.Fatal("expected error for foreign variant")
	}

	ok, err := h.Verify("", "")
	if err != nil || ok {
		t.Fatalf("Verify(empty) = %v, %v", ok, err)
	}
}

func TestNewArgon2HasherRejectsWeakConfig(t *testing.T) {
	if _, err := NewArgon2Hasher(Argon2Config{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}); !errors.Is(err, errInvalidConfig) {
		t.Fatalf("expected errInvalidConfig, got %v", err)
	}
}

func TestGenerateNumericCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateNumericCode(6)
		if err != nil {
			t.Fatalf("GenerateNumericCode returned error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
	}

	if _, err := GenerateNumericCode(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestHashCodeIsBoundToHandle(t *testing.T) {
	a := HashCode("handle-a", "123456")
	b := HashCode("handle-b", "123456")
	if a == b {
		t.Fatal("same code under different handles must not collide")
	}
	if !EqualHashes(a, HashCode("handle-a", "123456")) {
		t.Fatal("expected deterministic hash for the same handle and code")
	}
}

func TestPasswordPolicy(t *testing.T) {
	policy := NewPasswordPolicy(0, 0)

	assertCode := func(password, want string) {
		t.Helper()
		err := policy.Validate(password)
		var vErr *PasswordValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("Validate(%q): expected PasswordValidationError, got %v", password, err)
		}
		if vErr.Code != want {
			t.Fatalf("Validate(%q): expected %s, got %s", password, want, vErr.Code)
		}
	}

	assertCode("12345", "min_length")
	assertCode("      ", "blank")

	if err := policy.Validate("123456"); err != nil {
		t.Fatalf("six characters should pass without a score floor: %v", err)
	}

	strict := NewPasswordPolicy(6, 3)
	if err := strict.Validate("password"); err == nil {
		t.Fatal("expected zxcvbn floor to reject a dictionary password")
	}
	if err := strict.Validate("C0mplex!Passphrase#2025", "flat@example.com"); err != nil {
		t.Fatalf("expected strong password to pass, got %v", err)
	}
}
