// Package redact provides per-line content filters applied to text files
// as they are written into a support bundle. Filters are pure string
// transforms: one line in, one line out, no retained state between lines.
package redact

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/fcojfernandez/support-core-plugin/internal/filecontent"
	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// Replacement is substituted for every pattern match.
const Replacement = "[REDACTED]"

// Patterns compiles a set of regular expressions into a single filter
// that replaces every match on a line with the Replacement marker.
// An empty set returns a nil filter, meaning "no filtering".
func Patterns(exprs []string) (filecontent.Filter, error) {
	if len(exprs) == 0 {
		return nil, nil
	}

	res := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, xerrors.Wrapf(err, "compile redaction pattern %q", expr)
		}
		res = append(res, re)
	}

	return func(line string) string {
		for _, re := range res {
			line = re.ReplaceAllString(line, Replacement)
		}
		return line
	}, nil
}

// PatternsFile reads one regular expression per line from path and
// compiles them with Patterns. Blank lines and lines starting with #
// are skipped. A file with no usable patterns yields a nil filter.
func PatternsFile(path string) (filecontent.Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open redaction patterns %s", path)
	}
	defer f.Close()

	var exprs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		exprs = append(exprs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.Wrapf(err, "read redaction patterns %s", path)
	}
	return Patterns(exprs)
}

// Mappings builds a filter that replaces literal old values with new
// ones, e.g. hostnames with stable anonymized aliases. Longer keys are
// applied first so overlapping literals replace deterministically.
func Mappings(m map[string]string) filecontent.Filter {
	if len(m) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			keys = append(keys, k)
		}
	}
	// longest first
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && len(keys[j]) > len(keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}

	return func(line string) string {
		for _, k := range keys {
			line = strings.ReplaceAll(line, k, m[k])
		}
		return line
	}
}

// Chain composes filters left to right, skipping nils. It returns nil
// when nothing remains, so callers can pass the result straight to
// EmitFiltered and get the unfiltered fast path.
func Chain(filters ...filecontent.Filter) filecontent.Filter {
	kept := make([]filecontent.Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return func(line string) string {
		for _, f := range kept {
			line = f(line)
		}
		return line
	}
}
