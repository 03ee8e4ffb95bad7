package security

import (
	"errors"
	"testing"
)

func TestGenerateIdentifier(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := GenerateIdentifier()
		if len(id) != 43 {
			t.Fatalf("GenerateIdentifier() length = %d, want 43", len(id))
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("GenerateIdentifier() returned duplicate %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestHashAndCompareSecret(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("HashSecret() returned the plaintext")
	}

	if err := CompareSecret(hash, "s3cret"); err != nil {
		t.Errorf("CompareSecret() with correct secret error = %v", err)
	}
	if err := CompareSecret(hash, "wrong"); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("CompareSecret() with wrong secret error = %v, want ErrSecretMismatch", err)
	}
}

func TestCompareSecret_EmptyHashNeverMatches(t *testing.T) {
	// "test" is the plaintext of the dummy hash
	for _, secret := range []string{"", "test", "anything"} {
		if err := CompareSecret("", secret); !errors.Is(err, ErrSecretMismatch) {
			t.Errorf("CompareSecret(\"\", %q) error = %v, want ErrSecretMismatch", secret, err)
		}
	}
}
