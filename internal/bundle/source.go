package bundle

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// Source names one diagnostic input for the bundle. Path may be a glob
// pattern; every match is included under the Name directory inside the
// archive. MaxBytes of 0 means unlimited.
type Source struct {
	// Name is the directory inside the archive, e.g. "logs" or "config".
	Name string `json:"name"`

	// Path is an absolute file path or glob pattern on the host.
	Path string `json:"path"`

	// MaxBytes caps how much of each matched file is captured.
	// Zero falls back to the generator-wide default.
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

// Entry is one resolved file destined for the archive.
type Entry struct {
	// ArchiveName is the path inside the zip, always forward-slashed.
	ArchiveName string

	// Path is the file on the host filesystem.
	Path string

	// MaxBytes caps the captured prefix; zero defers to the generator default.
	MaxBytes int64
}

// LoadSources reads a JSON array of Source definitions.
func LoadSources(file string) ([]Source, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read sources file %s", file)
	}
	var srcs []Source
	if err := json.Unmarshal(data, &srcs); err != nil {
		return nil, xerrors.Wrapf(err, "parse sources file %s", file)
	}
	for i, s := range srcs {
		if s.Name == "" {
			return nil, xerrors.Newf("sources[%d]: name is required", i)
		}
		if s.Path == "" {
			return nil, xerrors.Newf("sources[%d] (%s): path is required", i, s.Name)
		}
	}
	return srcs, nil
}

// Resolve expands glob patterns into concrete entries. A pattern that
// matches nothing still yields one entry so the bundle records the
// missing source instead of silently omitting it. Entries are returned
// in a stable order.
func Resolve(srcs []Source) ([]Entry, error) {
	var out []Entry
	for _, s := range srcs {
		matches, err := filepath.Glob(s.Path)
		if err != nil {
			return nil, xerrors.Wrapf(err, "bad glob %q for source %s", s.Path, s.Name)
		}
		if len(matches) == 0 {
			out = append(out, Entry{
				ArchiveName: path.Join(s.Name, filepath.Base(s.Path)),
				Path:        s.Path,
				MaxBytes:    s.MaxBytes,
			})
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			out = append(out, Entry{
				ArchiveName: path.Join(s.Name, filepath.Base(m)),
				Path:        m,
				MaxBytes:    s.MaxBytes,
			})
		}
	}
	return out, nil
}
