package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHashAndVerify(t *testing.T) {
	hasher, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}

	hash, err := hasher.Hash("Sup3r-Secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !hasher.Handles(hash) {
		t.Fatalf("expected bcrypt prefix, got %s", hash)
	}

	ok, err := hasher.Verify("Sup3r-Secret", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("sup3r-secret", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestBcryptLongPasswordsTruncate(t *testing.T) {
	hasher, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}

	long := strings.Repeat("a1", 60)
	hash, err := hasher.Hash(long)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	ok, err := hasher.Verify(long, hash)
	if err != nil || !ok {
		t.Fatalf("expected match for long password, got ok=%v err=%v", ok, err)
	}
}

func TestBcryptNeedsUpgrade(t *testing.T) {
	low, _ := NewBcrypt(bcrypt.MinCost)
	high, _ := NewBcrypt(bcrypt.MinCost + 1)

	hash, err := low.Hash("Sup3r-Secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	needs, err := high.NeedsUpgrade(hash)
	if err != nil || !needs {
		t.Fatalf("expected upgrade, got needs=%v err=%v", needs, err)
	}
	needs, err = low.NeedsUpgrade(hash)
	if err != nil || needs {
		t.Fatalf("expected no upgrade, got needs=%v err=%v", needs, err)
	}
}

func TestBcryptCostBounds(t *testing.T) {
	if _, err := NewBcrypt(99); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	b, err := NewBcrypt(0)
	if err != nil {
		t.Fatalf("NewBcrypt(0) error: %v", err)
	}
	if b.cost != DefaultBcryptCost {
		t.Fatalf("expected default cost, got %d", b.cost)
	}
}

func TestChainVerifiesLegacyAndRequestsUpgrade(t *testing.T) {
	bc, _ := NewBcrypt(bcrypt.MinCost)
	ar, err := NewArgon2(testArgon2Params())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	legacyHash, err := ar.Hash("Sup3r-Secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	chain := NewChain(bc, ar)

	ok, err := chain.Verify("Sup3r-Secret", legacyHash)
	if err != nil || !ok {
		t.Fatalf("expected legacy verify, got ok=%v err=%v", ok, err)
	}
	needs, err := chain.NeedsUpgrade(legacyHash)
	if err != nil || !needs {
		t.Fatalf("expected legacy upgrade, got needs=%v err=%v", needs, err)
	}

	fresh, err := chain.Hash("Sup3r-Secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !bc.Handles(fresh) {
		t.Fatalf("expected primary scheme output, got %s", fresh)
	}
	needs, err = chain.NeedsUpgrade(fresh)
	if err != nil || needs {
		t.Fatalf("expected no upgrade, got needs=%v err=%v", needs, err)
	}

	if _, err := chain.Verify("x", "plaintext"); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}
