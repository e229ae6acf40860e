package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/fcojfernandez/support-core-plugin/internal/bundle"
	"github.com/fcojfernandez/support-core-plugin/internal/log"
)

type fakeS3 struct {
	err      error
	lastPut  *s3.PutObjectInput
	bodySize int64
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastPut = in
	n, err := io.Copy(io.Discard, in.Body)
	if err != nil {
		return nil, err
	}
	f.bodySize = n
	return &s3.PutObjectOutput{}, nil
}

type fakeSSM struct {
	err     error
	lastPut *ssm.PutParameterInput
}

func (f *fakeSSM) PutParameter(ctx context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastPut = in
	return &ssm.PutParameterOutput{}, nil
}

type fakeSigner struct {
	err error
}

func (f *fakeSigner) SignHex(ctx context.Context, hexDigest string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("signature-for-" + hexDigest[:8]), nil
}

type captureMetrics struct {
	results   []string
	durations int
}

func (c *captureMetrics) IncUpload(result string)               { c.results = append(c.results, result) }
func (c *captureMetrics) ObserveUploadDuration(seconds float64) { c.durations++ }

func testBundle(t *testing.T) *bundle.Result {
	t.Helper()
	p := filepath.Join(t.TempDir(), "support_test.zip")
	if err := os.WriteFile(p, []byte("zip-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &bundle.Result{
		Name:      "support_test.zip",
		Path:      p,
		SHA256:    "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899",
		SizeBytes: 9,
	}
}

func newTestUploader(s3c *fakeS3, ssmc *fakeSSM, opts Options) *Uploader {
	if opts.S3Bucket == "" {
		opts.S3Bucket = "support-bundles"
	}
	u := &Uploader{opts: opts, s3Client: s3c, ssmClient: ssmc, logger: log.Nop()}
	return u
}

func TestUpload_PutsObjectAndPointer(t *testing.T) {
	s3c := &fakeS3{}
	ssmc := &fakeSSM{}
	u := newTestUploader(s3c, ssmc, Options{
		S3Prefix: "bundles/prod",
		SSMParam: "/supportcore/latest",
	})

	res := testBundle(t)
	p, err := u.Upload(context.Background(), res)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if got := *s3c.lastPut.Key; got != "bundles/prod/support_test.zip" {
		t.Fatalf("key = %q", got)
	}
	if s3c.bodySize != 9 {
		t.Fatalf("uploaded %d bytes, want 9", s3c.bodySize)
	}
	if got := s3c.lastPut.Metadata["sha256"]; got != res.SHA256 {
		t.Fatalf("sha metadata = %q", got)
	}

	if ssmc.lastPut == nil {
		t.Fatal("SSM pointer not written")
	}
	var stored Pointer
	if err := json.Unmarshal([]byte(*ssmc.lastPut.Value), &stored); err != nil {
		t.Fatalf("pointer json: %v", err)
	}
	if stored.S3Key != p.S3Key || stored.SHA256 != res.SHA256 {
		t.Fatalf("pointer = %+v", stored)
	}
	if stored.Signature != "" {
		t.Fatal("unsigned upload should have empty signature")
	}
}

func TestUpload_Signs(t *testing.T) {
	s3c := &fakeS3{}
	u := newTestUploader(s3c, &fakeSSM{}, Options{Signer: &fakeSigner{}})

	p, err := u.Upload(context.Background(), testBundle(t))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if p.Signature == "" {
		t.Fatal("expected signature")
	}
	if s3c.lastPut.Metadata["signature"] != p.Signature {
		t.Fatal("signature missing from object metadata")
	}
}

func TestUpload_SignFailureAborts(t *testing.T) {
	s3c := &fakeS3{}
	u := newTestUploader(s3c, &fakeSSM{}, Options{Signer: &fakeSigner{err: errors.New("kms down")}})

	if _, err := u.Upload(context.Background(), testBundle(t)); err == nil {
		t.Fatal("expected error")
	}
	if s3c.lastPut != nil {
		t.Fatal("object must not be uploaded when signing fails")
	}
}

func TestUpload_S3Failure(t *testing.T) {
	u := newTestUploader(&fakeS3{err: errors.New("denied")}, &fakeSSM{}, Options{SSMParam: "/x"})

	if _, err := u.Upload(context.Background(), testBundle(t)); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpload_NoSSMParamSkipsPointer(t *testing.T) {
	ssmc := &fakeSSM{}
	u := newTestUploader(&fakeS3{}, ssmc, Options{})

	if _, err := u.Upload(context.Background(), testBundle(t)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ssmc.lastPut != nil {
		t.Fatal("pointer written despite empty SSMParam")
	}
}

func TestUpload_Metrics(t *testing.T) {
	m := &captureMetrics{}
	u := newTestUploader(&fakeS3{}, &fakeSSM{}, Options{Metrics: m})

	u.Upload(context.Background(), testBundle(t))

	uerr := newTestUploader(&fakeS3{err: errors.New("boom")}, &fakeSSM{}, Options{Metrics: m})
	uerr.Upload(context.Background(), testBundle(t))

	if len(m.results) != 2 || m.results[0] != "success" || m.results[1] != "error" {
		t.Fatalf("results = %v", m.results)
	}
	if m.durations != 2 {
		t.Fatalf("durations observed = %d", m.durations)
	}
}

func TestMissingBundleFile(t *testing.T) {
	u := newTestUploader(&fakeS3{}, &fakeSSM{}, Options{})
	res := &bundle.Result{Name: "gone.zip", Path: filepath.Join(t.TempDir(), "gone.zip")}
	if _, err := u.Upload(context.Background(), res); err == nil {
		t.Fatal("expected error for missing archive")
	}
}
