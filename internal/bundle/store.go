package bundle

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fcojfernandez/support-core-plugin/internal/pathutil"
	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// Info summarizes one archive on disk.
type Info struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store answers listing and download requests against the bundle
// output directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store { return &Store{dir: dir} }

func (s *Store) Dir() string { return s.dir }

// List returns finished archives, newest first. Partial files from an
// in-flight generation are excluded.
func (s *Store) List() ([]Info, error) {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read bundle dir %s", s.dir)
	}
	var out []Info
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".zip") {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:       de.Name(),
			SizeBytes:  fi.Size(),
			ModifiedAt: fi.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	return out, nil
}

// Resolve maps an archive name from a request to its on-disk path,
// rejecting traversal attempts and names of anything but finished bundles.
func (s *Store) Resolve(name string) (string, error) {
	if !strings.HasSuffix(name, ".zip") {
		return "", xerrors.Newf("not a bundle archive: %q", name)
	}
	p, err := pathutil.SafeJoin(s.dir, name)
	if err != nil {
		return "", err
	}
	if filepath.Dir(p) != filepath.Clean(s.dir) {
		return "", xerrors.Newf("bundle name must be a bare file name: %q", name)
	}
	return p, nil
}

// Prune removes the oldest archives beyond keep. keep <= 0 disables
// pruning. Returns the names removed.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(infos) <= keep {
		return nil, nil
	}
	var removed []string
	for _, info := range infos[keep:] {
		p, err := s.Resolve(info.Name)
		if err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			return removed, xerrors.Wrapf(err, "prune %s", info.Name)
		}
		removed = append(removed, info.Name)
	}
	return removed, nil
}
