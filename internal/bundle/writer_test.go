package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fcojfernandez/support-core-plugin/internal/filecontent"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func openZip(t *testing.T, data []byte) *zip.Reader {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	return zr
}

func readEntry(t *testing.T, zr *zip.Reader, name string) string {
	t.Helper()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read entry %s: %v", name, err)
		}
		return string(b)
	}
	t.Fatalf("entry %s not in archive", name)
	return ""
}

func readManifest(t *testing.T, zr *zip.Reader) Manifest {
	t.Helper()
	var m Manifest
	if err := json.Unmarshal([]byte(readEntry(t, zr, ManifestName)), &m); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	return m
}

func TestWriter_RawEntry(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "app.log", "line1\nline2\n")

	var buf bytes.Buffer
	w := NewWriter(&buf, "supportcore", "test")

	fc := filecontent.New("logs/app.log", src)
	mf, err := w.Add(fc, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if mf.SizeBytes != 12 || mf.Truncated || mf.SourceMissing {
		t.Fatalf("manifest entry = %+v", mf)
	}
	if mf.Classification != "text" {
		t.Fatalf("classification = %q", mf.Classification)
	}

	zr := openZip(t, buf.Bytes())
	if got := readEntry(t, zr, "logs/app.log"); got != "line1\nline2\n" {
		t.Fatalf("entry = %q", got)
	}

	m := readManifest(t, zr)
	if m.App != "supportcore" || len(m.Files) != 1 {
		t.Fatalf("manifest = %+v", m)
	}
}

func TestWriter_FilteredEntryDropsSeparators(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "app.log", "secret token\nplain line\n")

	var buf bytes.Buffer
	w := NewWriter(&buf, "supportcore", "test")

	filter := func(line string) string {
		return strings.ReplaceAll(line, "secret", "[masked]")
	}
	fc := filecontent.New("logs/app.log", src)
	if _, err := w.Add(fc, filter); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	zr := openZip(t, buf.Bytes())
	got := readEntry(t, zr, "logs/app.log")
	if got != "[masked] tokenplain line" {
		t.Fatalf("filtered entry = %q", got)
	}
}

func TestWriter_TruncatedFlag(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "big.log", strings.Repeat("a", 100))

	var buf bytes.Buffer
	w := NewWriter(&buf, "supportcore", "test")

	fc := filecontent.NewWithLimit("logs/big.log", src, 10)
	mf, err := w.Add(fc, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !mf.Truncated {
		t.Fatal("expected truncated flag")
	}
	if mf.SizeBytes != 10 {
		t.Fatalf("size = %d, want 10", mf.SizeBytes)
	}
}

func TestWriter_MissingSourcePlaceholder(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.log")

	var buf bytes.Buffer
	w := NewWriter(&buf, "supportcore", "test")

	fc := filecontent.New("logs/gone.log", missing)
	mf, err := w.Add(fc, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !mf.SourceMissing {
		t.Fatal("expected source_missing flag")
	}
	if mf.Truncated {
		t.Fatal("missing source must not count as truncated")
	}

	zr := openZip(t, buf.Bytes())
	got := readEntry(t, zr, "logs/gone.log")
	if !strings.Contains(got, "WARNING: Could not attach") || !strings.Contains(got, missing) {
		t.Fatalf("placeholder = %q", got)
	}
}

func TestWriter_ContentBytes(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "aaaa")
	b := writeFile(t, dir, "b.txt", "bb")

	var buf bytes.Buffer
	w := NewWriter(&buf, "supportcore", "test")
	if _, err := w.Add(filecontent.New("a.txt", a), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(filecontent.New("b.txt", b), nil); err != nil {
		t.Fatal(err)
	}
	if got := w.ContentBytes(); got != 6 {
		t.Fatalf("ContentBytes = %d, want 6", got)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}
