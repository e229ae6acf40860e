package bundle

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/fcojfernandez/support-core-plugin/internal/filecontent"
	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// ManifestName is the archive path of the bundle manifest.
const ManifestName = "manifest.json"

// ManifestFile records one archived file for the manifest.
type ManifestFile struct {
	Name           string `json:"name"`
	Source         string `json:"source"`
	SizeBytes      int64  `json:"size_bytes"`
	Truncated      bool   `json:"truncated,omitempty"`
	SourceMissing  bool   `json:"source_missing,omitempty"`
	Classification string `json:"classification"`
}

// Manifest is written as the last entry of every bundle.
type Manifest struct {
	GeneratedAt time.Time      `json:"generated_at"`
	App         string         `json:"app"`
	Version     string         `json:"version"`
	Files       []ManifestFile `json:"files"`
}

// Writer streams file contents into a zip archive and accumulates the
// manifest as entries are added. Not safe for concurrent use.
type Writer struct {
	zw       *zip.Writer
	manifest Manifest
	bytes    int64
}

// NewWriter wraps w in a zip archive. app and appVersion are recorded
// in the manifest for provenance.
func NewWriter(w io.Writer, app, appVersion string) *Writer {
	return &Writer{
		zw: zip.NewWriter(w),
		manifest: Manifest{
			GeneratedAt: time.Now().UTC(),
			App:         app,
			Version:     appVersion,
		},
	}
}

// countingWriter tracks how many bytes an emitter produced.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Add captures one file content into the archive. filter may be nil for
// a raw copy. The manifest entry records the outcome, including whether
// the source was missing or the capture was cut off at its byte ceiling.
func (w *Writer) Add(fc *filecontent.FileContent, filter filecontent.Filter) (ManifestFile, error) {
	hdr := &zip.FileHeader{
		Name:     fc.Name(),
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	}
	if mt, err := fc.ModTime(); err == nil {
		hdr.Modified = mt
	}

	ew, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return ManifestFile{}, xerrors.Wrapf(err, "create archive entry %s", fc.Name())
	}

	cw := &countingWriter{w: ew}
	outcome, err := fc.EmitFiltered(cw, filter)
	if err != nil {
		return ManifestFile{}, err
	}

	mf := ManifestFile{
		Name:           fc.Name(),
		Source:         fc.Path(),
		SizeBytes:      cw.n,
		SourceMissing:  outcome == filecontent.SourceMissing,
		Truncated:      truncated(fc, outcome),
		Classification: fc.Classification().String(),
	}
	w.manifest.Files = append(w.manifest.Files, mf)
	w.bytes += cw.n
	return mf, nil
}

// truncated reports whether the capture was cut off by the byte ceiling.
// Judged against the source size on disk, since filtering can shrink the
// written byte count below the ceiling even when lines were dropped.
func truncated(fc *filecontent.FileContent, outcome filecontent.Outcome) bool {
	if outcome == filecontent.SourceMissing || fc.Limit() < 0 {
		return false
	}
	fi, err := os.Stat(fc.Path())
	if err != nil {
		return false
	}
	return fi.Size() > fc.Limit()
}

// ContentBytes reports the uncompressed bytes captured so far, manifest
// excluded.
func (w *Writer) ContentBytes() int64 { return w.bytes }

// Close writes the manifest and finishes the archive. The underlying
// writer is not closed.
func (w *Writer) Close() error {
	ew, err := w.zw.Create(ManifestName)
	if err != nil {
		return xerrors.Wrap(err, "create manifest entry")
	}
	enc := json.NewEncoder(ew)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&w.manifest); err != nil {
		return xerrors.Wrap(err, "encode manifest")
	}
	if err := w.zw.Close(); err != nil {
		return xerrors.Wrap(err, "close archive")
	}
	return nil
}
