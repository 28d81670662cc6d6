// ABOUTME: Unit tests for identity context helpers and roles
// ABOUTME: Tests role parsing and identity propagation through context

package auth

import (
	"context"
	"encoding/json"
	"testing"
)

func TestWithIdentity_FromContext(t *testing.T) {
	id := &Identity{Username: "ada", Role: RoleAdmin}

	ctx := WithIdentity(context.Background(), id)
	got := FromContext(ctx)

	if got != id {
		t.Fatalf("FromContext() = %v, want %v", got, id)
	}
}

func TestWithClaims(t *testing.T) {
	s, _ := newTestSessions(t)
	_, claims, err := s.Issue("ada", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	ctx := WithClaims(context.Background(), claims)

	if got := ClaimsFromContext(ctx); got != claims {
		t.Errorf("ClaimsFromContext() = %v, want %v", got, claims)
	}
	id := FromContext(ctx)
	if id == nil || id.Username != "ada" || id.Role != RoleAdmin {
		t.Fatalf("FromContext() = %+v", id)
	}
	if !id.ExpiresAt.Equal(claims.ExpiresAt.Time) {
		t.Errorf("ExpiresAt = %v, want %v", id.ExpiresAt, claims.ExpiresAt.Time)
	}
}

func TestFromContext_Empty(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"admin":  RoleAdmin,
		"":       RoleNone,
		"Admin":  RoleNone,
		"owner":  RoleNone,
		"editor": RoleNone,
	}
	for in, want := range tests {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRole_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Role Role `json:"role"`
	}{RoleAdmin})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"role":"admin"}` {
		t.Errorf("Marshal() = %s", data)
	}

	var out struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal([]byte(`{"role":"superuser"}`), &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Role != RoleNone {
		t.Errorf("unknown role decoded as %v, want RoleNone", out.Role)
	}
}
