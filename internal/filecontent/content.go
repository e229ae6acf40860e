package filecontent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/fcojfernandez/support-core-plugin/internal/tracefmt"
	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// Unlimited disables the byte ceiling on a FileContent.
const Unlimited int64 = -1

// Filter transforms a single line of text, e.g. for secret redaction.
// It is applied only to sources classified as Text.
type Filter func(line string) string

// Outcome reports how an emit call resolved. It is meaningful only when
// the returned error is nil.
type Outcome int

const (
	// Delivered means the source's bytes (possibly truncated or filtered)
	// were written to the sink.
	Delivered Outcome = iota

	// SourceMissing means the file could not be found and a warning
	// placeholder was written instead. This is not an error: a vanished
	// source must never fail the surrounding bundle.
	SourceMissing
)

// FileContent emits one on-disk file into a bundle stream. The display
// name, path, and byte ceiling are fixed at construction, as is the
// text/binary classification, which reads the file's first bytes eagerly.
//
// A FileContent holds no open handles between calls; every emit is an
// independent replay against the same source and limit. The sink passed
// to the emit methods is borrowed and never closed.
type FileContent struct {
	name  string
	path  string
	limit int64
	class Classification
}

// New builds an unbounded FileContent for the file at path, shown as
// name inside the bundle.
func New(name, path string) *FileContent {
	return NewWithLimit(name, path, Unlimited)
}

// NewWithLimit builds a FileContent emitting at most limit bytes.
// Pass Unlimited for no ceiling. Construction blocks on one read of the
// file's leading bytes to freeze the classification.
func NewWithLimit(name, path string, limit int64) *FileContent {
	return &FileContent{
		name:  name,
		path:  path,
		limit: limit,
		class: classifyFile(path),
	}
}

func (c *FileContent) Name() string { return c.name }

func (c *FileContent) Path() string { return c.path }

// Limit returns the byte ceiling, or Unlimited.
func (c *FileContent) Limit() int64 { return c.limit }

// Classification returns the text/binary decision frozen at construction.
func (c *FileContent) Classification() Classification { return c.class }

// ModTime returns the source's last-modified timestamp.
func (c *FileContent) ModTime() (time.Time, error) {
	fi, err := os.Stat(c.path)
	if err != nil {
		return time.Time{}, xerrors.Wrapf(err, "stat %s", c.path)
	}
	return fi.ModTime(), nil
}

// Emit copies the source's bytes to w, truncated at the configured
// ceiling. A missing source writes a warning placeholder and resolves
// as SourceMissing with a nil error; I/O failures after a successful
// open are returned to the caller.
func (c *FileContent) Emit(w io.Writer) (Outcome, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writePlaceholder(w, c.path, xerrors.WithStack(err))
			return SourceMissing, nil
		}
		return Delivered, xerrors.Wrapf(err, "open %s", c.path)
	}
	defer f.Close()

	var src io.Reader = f
	if c.limit >= 0 {
		src = NewBounded(f, c.limit)
	}
	if _, err := io.Copy(w, src); err != nil {
		return Delivered, xerrors.Wrapf(err, "copy %s", c.path)
	}
	return Delivered, nil
}

// EmitFiltered emits the source through a per-line filter. Binary sources
// and a nil filter fall back to Emit: the filtered path is never entered
// for binary content. Filtered lines are written with no separator
// between them, matching the raw concatenation contract of the bundle
// format. Missing-source handling is identical to Emit.
func (c *FileContent) EmitFiltered(w io.Writer, filter Filter) (Outcome, error) {
	if c.class == Binary || filter == nil {
		return c.Emit(w)
	}

	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writePlaceholder(w, c.path, xerrors.WithStack(err))
			return SourceMissing, nil
		}
		return Delivered, xerrors.Wrapf(err, "open %s", c.path)
	}
	defer f.Close()

	if c.limit < 0 {
		br := bufio.NewReader(f)
		for {
			line, err := readLine(br)
			if err == io.EOF {
				break
			}
			if err != nil {
				return Delivered, xerrors.Wrapf(err, "read %s", c.path)
			}
			if _, err := io.WriteString(w, filter(line)); err != nil {
				return Delivered, xerrors.Wrapf(err, "write %s", c.name)
			}
		}
		return Delivered, nil
	}

	lr := NewLineReader(f, c.limit)
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Delivered, xerrors.Wrapf(err, "read %s", c.path)
		}
		if _, err := io.WriteString(w, filter(line)); err != nil {
			return Delivered, xerrors.Wrapf(err, "write %s", c.name)
		}
	}
	return Delivered, nil
}

// writePlaceholder substitutes a diagnostic block for a vanished source:
// a warning line naming the path, a blank line, then the formatted error
// trace. It never fails; write errors on the sink are dropped because the
// placeholder is already the fallback path.
func writePlaceholder(w io.Writer, path string, cause error) {
	fmt.Fprintf(w, "--- WARNING: Could not attach %s as it cannot currently be found ---\n\n", path)
	_, _ = io.WriteString(w, tracefmt.Format(cause))
}
