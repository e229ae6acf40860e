package pathutil

import (
	"path/filepath"
	"strings"

	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// SafeJoin joins name under dir, rejecting anything that could escape dir.
// name must be a bare relative path: no absolute paths, no dot segments,
// no NUL bytes, no backslashes.
func SafeJoin(dir, name string) (string, error) {
	if name == "" {
		return "", xerrors.New("empty name")
	}
	if strings.ContainsAny(name, "\x00\\") {
		return "", xerrors.Newf("invalid character in name %q", name)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", xerrors.Newf("absolute path not allowed: %q", name)
	}
	if HasDotSegments(name) {
		return "", xerrors.Newf("dot segment in name %q", name)
	}
	return filepath.Join(dir, filepath.FromSlash(name)), nil
}
