package identity

import (
	"strings"
	"testing"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/models"

	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewTokenManager("test-secret", time.Hour, "branch-ops")
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	id := uuid.NewString()
	token, expires, err := m.Generate(id, "teacher1", "TEACHER")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Errorf("expiry %v should be in the future", expires)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.Subject != id || claims.Username != "teacher1" || claims.Role != "TEACHER" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenRejections(t *testing.T) {
	m, _ := NewTokenManager("test-secret", time.Hour, "branch-ops")
	other, _ := NewTokenManager("other-secret", time.Hour, "branch-ops")
	foreign, _ := NewTokenManager("test-secret", time.Hour, "someone-else")
	expired, _ := NewTokenManager("test-secret", time.Hour, "branch-ops")
	expired.nowFunc = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	tokenFor := func(tm *TokenManager) string {
		tok, _, err := tm.Generate(uuid.NewString(), "u", "EC")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		return tok
	}

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", tokenFor(other)},
		{"wrong issuer", tokenFor(foreign)},
		{"expired", tokenFor(expired)},
		{"garbage", "not.a.jwt"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Validate(tt.token); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := NewTokenManager("", time.Hour, ""); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("NewTokenManager(\"\") error = %v", err)
	}
}

func TestActorFor(t *testing.T) {
	b := uuid.New()
	u := &models.User{ID: uuid.New(), Username: "cm1", Role: "CM", BranchIDs: []uuid.UUID{b}, PrimaryBranchID: &b}
	a := ActorFor(u)
	if a.Role != access.RoleClassMgr || !a.Can(access.ManageClasses) || a.Can(access.ManageUsers) {
		t.Errorf("ActorFor() = %+v", a)
	}
	if a.SystemWide {
		t.Error("CM should not be system-wide")
	}
}
