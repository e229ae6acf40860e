package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fcojfernandez/support-core-plugin/internal/cryptoutil"
	"github.com/fcojfernandez/support-core-plugin/internal/filecontent"
	"github.com/fcojfernandez/support-core-plugin/internal/log"
	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// GeneratorMetrics is implemented by the metrics package to observe
// bundle generation.
type GeneratorMetrics interface {
	IncBundles()
	IncBundleError(stage string)
	ObserveBundleDuration(seconds float64)
	AddBundleFiles(n int)
	AddBundleBytes(n int64)
	IncFileTruncated()
	IncSourceMissing()
	SetLastBundle(sha256 string, t time.Time)
}

// Result describes one generated bundle.
type Result struct {
	Name           string    `json:"name"`
	Path           string    `json:"-"`
	SHA256         string    `json:"sha256"`
	SizeBytes      int64     `json:"size_bytes"`
	Files          int       `json:"files"`
	TruncatedFiles int       `json:"truncated_files"`
	MissingSources int       `json:"missing_sources"`
	CreatedAt      time.Time `json:"created_at"`
	Duration       float64   `json:"duration_seconds"`
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Logger log.Logger

	// OutputDir receives the finished archives.
	OutputDir string

	// Sources describe what goes into each bundle. Globs are re-resolved
	// on every generation so rotated logs are picked up.
	Sources []Source

	// Filter is applied per line to text sources; nil disables redaction.
	Filter filecontent.Filter

	// DefaultMaxBytes caps sources that do not set their own ceiling.
	// Zero means unlimited.
	DefaultMaxBytes int64

	// App and AppVersion are recorded in the bundle manifest.
	App        string
	AppVersion string

	// Metrics receives generation observability signals. May be nil.
	Metrics GeneratorMetrics
}

// Generator produces support bundles. Safe for concurrent Generate calls,
// though bundles are heavyweight enough that callers should serialize.
type Generator struct {
	opts GeneratorOptions
}

func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.OutputDir == "" {
		return nil, xerrors.New("output dir is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create output dir %s", opts.OutputDir)
	}
	return &Generator{opts: opts}, nil
}

// BundleName returns the archive file name for a generation instant.
func BundleName(t time.Time) string {
	return fmt.Sprintf("support_%s.zip", t.UTC().Format("2006-01-02_15.04.05"))
}

// Generate assembles one bundle and returns its result. Sources that
// vanished since configuration produce placeholder entries, not errors;
// only archive-level failures abort the bundle.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	start := time.Now()
	L := g.opts.Logger

	entries, err := Resolve(g.opts.Sources)
	if err != nil {
		g.countError("resolve")
		return nil, err
	}

	name := BundleName(start)
	path := filepath.Join(g.opts.OutputDir, name)

	// write to a temp name first so partial bundles are never listed
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		g.countError("create")
		return nil, xerrors.Wrapf(err, "create bundle file %s", tmp)
	}
	defer os.Remove(tmp)

	res, err := g.fill(ctx, f, name, entries)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = xerrors.Wrapf(cerr, "close bundle file %s", tmp)
	}
	if err != nil {
		g.countError("archive")
		return nil, err
	}

	sum, size, err := hashFile(tmp)
	if err != nil {
		g.countError("hash")
		return nil, err
	}
	res.SHA256 = sum
	res.SizeBytes = size

	if err := os.Rename(tmp, path); err != nil {
		g.countError("rename")
		return nil, xerrors.Wrapf(err, "finalize bundle %s", path)
	}
	res.Path = path
	res.Duration = time.Since(start).Seconds()

	if m := g.opts.Metrics; m != nil {
		m.IncBundles()
		m.ObserveBundleDuration(res.Duration)
		m.AddBundleFiles(res.Files)
		m.SetLastBundle(res.SHA256, res.CreatedAt)
	}

	L.Info(ctx, "support bundle generated",
		"bundle", res.Name,
		"sha256", res.SHA256,
		"files", res.Files,
		"size_bytes", res.SizeBytes,
		"truncated", res.TruncatedFiles,
		"missing", res.MissingSources,
		"duration_seconds", res.Duration,
	)
	return res, nil
}

// fill streams every entry into the archive.
func (g *Generator) fill(ctx context.Context, f *os.File, name string, entries []Entry) (*Result, error) {
	w := NewWriter(f, g.opts.App, g.opts.AppVersion)
	res := &Result{Name: name, CreatedAt: time.Now().UTC()}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(err, "bundle generation cancelled")
		}

		limit := e.MaxBytes
		if limit == 0 {
			limit = g.opts.DefaultMaxBytes
		}
		if limit == 0 {
			limit = filecontent.Unlimited
		}

		fc := filecontent.NewWithLimit(e.ArchiveName, e.Path, limit)
		mf, err := w.Add(fc, g.opts.Filter)
		if err != nil {
			return nil, xerrors.Wrapf(err, "archive %s", e.ArchiveName)
		}

		res.Files++
		if mf.SourceMissing {
			res.MissingSources++
			if m := g.opts.Metrics; m != nil {
				m.IncSourceMissing()
			}
			g.opts.Logger.Warn(ctx, "bundle source missing, placeholder attached",
				"source", e.Path,
			)
		}
		if mf.Truncated {
			res.TruncatedFiles++
			if m := g.opts.Metrics; m != nil {
				m.IncFileTruncated()
			}
		}
	}

	if m := g.opts.Metrics; m != nil {
		m.AddBundleBytes(w.ContentBytes())
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return res, nil
}

func (g *Generator) countError(stage string) {
	if m := g.opts.Metrics; m != nil {
		m.IncBundleError(stage)
	}
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, xerrors.Wrapf(err, "open %s for hashing", path)
	}
	defer f.Close()
	sum, n, err := cryptoutil.SHA256HexReader(f)
	if err != nil {
		return "", 0, xerrors.Wrapf(err, "hash %s", path)
	}
	return sum, n, nil
}
