package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/side/eventful/internal/domain"
)

// fakeGrantStore is an in-memory GrantStore keyed by token hash.
type fakeGrantStore struct {
	mu     sync.Mutex
	grants map[string]*domain.SessionGrant
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{grants: make(map[string]*domain.SessionGrant)}
}

func (s *fakeGrantStore) Create(ctx context.Context, grant *domain.SessionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *grant
	stored.Token = ""
	stored.Assertion = ""
	s.grants[grant.TokenHash] = &stored
	return nil
}

func (s *fakeGrantStore) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.SessionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[tokenHash]
	if !ok {
		return nil, domain.ErrGrantNotFound
	}
	copied := *grant
	return &copied, nil
}

func (s *fakeGrantStore) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[tokenHash]
	if !ok || grant.RevokedAt != nil {
		return domain.ErrGrantNotFound
	}
	now := time.Now()
	grant.RevokedAt = &now
	return nil
}

func newTestBinding(ttl time.Duration) (*SessionBinding, *fakeGrantStore) {
	store := newFakeGrantStore()
	binding := NewSessionBinding(BindingConfig{
		GrantTTL:  ttl,
		JWTSecret: []byte("test-secret-key-at-least-32-chars!!"),
		Issuer:    "eventful-test",
	}, store)
	return binding, store
}

func TestSessionBinding_IssueAndValidate(t *testing.T) {
	binding, store := newTestBinding(30 * time.Minute)
	ctx := context.Background()

	grant, err := binding.Issue(ctx, "a@x.com", domain.PurposeSignup)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if grant.Token == "" {
		t.Error("grant should carry the raw token")
	}
	if grant.Assertion == "" {
		t.Error("grant should carry a signed assertion")
	}
	if got, want := grant.TTL(), 30*time.Minute; got != want {
		t.Errorf("TTL = %v, want %v", got, want)
	}

	// The raw token must not be persisted.
	stored, err := store.GetByTokenHash(ctx, grant.TokenHash)
	if err != nil {
		t.Fatalf("stored grant not found: %v", err)
	}
	if stored.Token != "" {
		t.Error("raw token must not be stored")
	}

	validated, err := binding.Validate(ctx, grant.Token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if validated.Identity != "a@x.com" || validated.Purpose != domain.PurposeSignup {
		t.Errorf("validated grant = %s/%s, want a@x.com/signup", validated.Identity, validated.Purpose)
	}
}

func TestSessionBinding_ValidateUnknownToken(t *testing.T) {
	binding, _ := newTestBinding(30 * time.Minute)

	_, err := binding.Validate(context.Background(), "no-such-token")
	if !errors.Is(err, domain.ErrGrantNotFound) {
		t.Errorf("Validate = %v, want ErrGrantNotFound", err)
	}
}

func TestSessionBinding_Revoke(t *testing.T) {
	binding, _ := newTestBinding(30 * time.Minute)
	ctx := context.Background()

	grant, err := binding.Issue(ctx, "a@x.com", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if err := binding.Revoke(ctx, grant.Token); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	_, err = binding.Validate(ctx, grant.Token)
	if !errors.Is(err, domain.ErrGrantRevoked) {
		t.Errorf("Validate after revoke = %v, want ErrGrantRevoked", err)
	}
}

func TestSessionBinding_ExpiredGrant(t *testing.T) {
	binding, _ := newTestBinding(-time.Minute)
	ctx := context.Background()

	grant, err := binding.Issue(ctx, "a@x.com", domain.PurposeSignup)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = binding.Validate(ctx, grant.Token)
	if !errors.Is(err, domain.ErrGrantExpired) {
		t.Errorf("Validate on expired grant = %v, want ErrGrantExpired", err)
	}
}

func TestSessionBinding_Assertion(t *testing.T) {
	binding, _ := newTestBinding(30 * time.Minute)

	grant, err := binding.Issue(context.Background(), "a@x.com", domain.PurposeEmailChange)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := binding.ValidateAssertion(grant.Assertion)
	if err != nil {
		t.Fatalf("ValidateAssertion failed: %v", err)
	}
	if claims.Subject != "a@x.com" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "a@x.com")
	}
	if claims.Purpose != string(domain.PurposeEmailChange) {
		t.Errorf("Purpose = %q, want %q", claims.Purpose, domain.PurposeEmailChange)
	}
	if claims.ID != grant.ID.String() {
		t.Errorf("claims.ID = %q, want grant ID %q", claims.ID, grant.ID)
	}

	if _, err := binding.ValidateAssertion("not-a-jwt"); err == nil {
		t.Error("ValidateAssertion should reject a malformed assertion")
	}
}

func TestGenerateToken_UniqueAndHexEncoded(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken(32)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		if len(token) != 64 {
			t.Fatalf("token length = %d, want 64", len(token))
		}
		if seen[token] {
			t.Fatal("GenerateToken produced a duplicate")
		}
		seen[token] = true
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	a := HashToken("some-token")
	b := HashToken("some-token")
	if a != b {
		t.Error("HashToken should be deterministic")
	}
	if a == HashToken("other-token") {
		t.Error("different tokens should not collide")
	}
	if a == "some-token" {
		t.Error("hash must differ from the raw token")
	}
}
