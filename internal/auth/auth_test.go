package auth

import (
	"testing"
	"time"

	"github.com/cs3org/sweettooth/internal/errtypes"
)

func TestIssueAndParse(t *testing.T) {
	m, err := NewManager("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, err := m.Issue(42, "alice")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseExpired(t *testing.T) {
	m, err := NewManager("secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	m.now = func() time.Time { return start }
	token, err := m.Issue(1, "alice")
	if err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return start.Add(time.Hour) }
	if _, err := m.Parse(token); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestParseWrongSecret(t *testing.T) {
	m1, _ := NewManager("one", 0)
	m2, _ := NewManager("two", 0)
	token, err := m1.Issue(1, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m2.Parse(token); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := m1.Parse("garbage"); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestNewManagerEmptySecret(t *testing.T) {
	if _, err := NewManager("", time.Hour); err == nil {
		t.Fatal("expected error")
	}
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":  "abc",
		"bearer abc ": "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	} {
		if got := BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
