package bundle

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func seedStore(t *testing.T, names ...string) *Store {
	t.Helper()
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i, name := range names {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("zipdata"), 0o644); err != nil {
			t.Fatal(err)
		}
		// strictly increasing mtimes so List order is deterministic
		mt := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	return NewStore(dir)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := seedStore(t, "support_1.zip", "support_2.zip", "support_3.zip")

	infos, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("got %d infos", len(infos))
	}
	if infos[0].Name != "support_3.zip" || infos[2].Name != "support_1.zip" {
		t.Fatalf("order = %v", []string{infos[0].Name, infos[1].Name, infos[2].Name})
	}
}

func TestStore_ListSkipsPartialsAndDirs(t *testing.T) {
	s := seedStore(t, "support_1.zip")
	if err := os.WriteFile(filepath.Join(s.Dir(), "support_2.zip.partial"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(s.Dir(), "nested.zip"), 0o755); err != nil {
		t.Fatal(err)
	}

	infos, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "support_1.zip" {
		t.Fatalf("infos = %+v", infos)
	}
}

func TestStore_Resolve(t *testing.T) {
	s := seedStore(t, "support_1.zip")

	p, err := s.Resolve("support_1.zip")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p != filepath.Join(s.Dir(), "support_1.zip") {
		t.Fatalf("path = %q", p)
	}

	bad := []string{
		"../escape.zip",
		"/etc/passwd",
		"nested/file.zip",
		"notzip.txt",
		"",
	}
	for _, name := range bad {
		if _, err := s.Resolve(name); err == nil {
			t.Errorf("Resolve(%q) should fail", name)
		}
	}
}

func TestStore_Prune(t *testing.T) {
	s := seedStore(t, "support_1.zip", "support_2.zip", "support_3.zip", "support_4.zip")

	removed, err := s.Prune(2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v", removed)
	}

	infos, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("kept %d, want 2", len(infos))
	}
	// newest two survive
	if infos[0].Name != "support_4.zip" || infos[1].Name != "support_3.zip" {
		t.Fatalf("kept = %v", []string{infos[0].Name, infos[1].Name})
	}
}

func TestStore_PruneDisabled(t *testing.T) {
	s := seedStore(t, "support_1.zip")
	removed, err := s.Prune(0)
	if err != nil || removed != nil {
		t.Fatalf("Prune(0) = %v, %v", removed, err)
	}
}
