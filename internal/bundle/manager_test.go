package bundle

import (
	"testing"
	"time"
)

func TestManager_EmptyUntilSet(t *testing.T) {
	m := NewManager()
	if _, ok := m.Latest(); ok {
		t.Fatal("Latest should report false before Set")
	}
	if m.LastSHA256() != "" {
		t.Fatal("LastSHA256 should be empty before Set")
	}
	if !m.LastCreatedAt().IsZero() {
		t.Fatal("LastCreatedAt should be zero before Set")
	}
}

func TestManager_SetAndGet(t *testing.T) {
	m := NewManager()
	created := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	m.Set(Result{Name: "support_x.zip", SHA256: "abc", CreatedAt: created})

	r, ok := m.Latest()
	if !ok {
		t.Fatal("Latest should report true after Set")
	}
	if r.Name != "support_x.zip" || r.SHA256 != "abc" {
		t.Fatalf("latest = %+v", r)
	}
	if m.LastSHA256() != "abc" {
		t.Fatalf("LastSHA256 = %q", m.LastSHA256())
	}
	if !m.LastCreatedAt().Equal(created) {
		t.Fatalf("LastCreatedAt = %v", m.LastCreatedAt())
	}
}

func TestManager_CopiesResult(t *testing.T) {
	m := NewManager()
	r := Result{Name: "a.zip", SHA256: "aaa"}
	m.Set(r)

	r.SHA256 = "mutated"
	if m.LastSHA256() != "aaa" {
		t.Fatal("manager must not observe caller mutation")
	}
}

func TestManager_DefaultsCreatedAt(t *testing.T) {
	m := NewManager()
	m.Set(Result{Name: "a.zip"})
	if m.LastCreatedAt().IsZero() {
		t.Fatal("CreatedAt should be defaulted on Set")
	}
}
