// Package upload ships finished bundles to S3 and records a pointer to
// the latest one in SSM so fleet tooling can find it. When a KMS signing
// key is configured, each archive digest is signed and the signature
// stored alongside the object.
package upload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/fcojfernandez/support-core-plugin/internal/bundle"
	"github.com/fcojfernandez/support-core-plugin/internal/log"
	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// s3PutAPI is the subset of the S3 API the uploader needs. Extracted as
// an interface to enable unit testing without live AWS credentials.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ssmPutAPI is the subset of the SSM API the uploader needs.
type ssmPutAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// DigestSigner signs a hex-encoded SHA-256 digest. Satisfied by
// cryptoutil.KMSSigner.
type DigestSigner interface {
	SignHex(ctx context.Context, hexDigest string) ([]byte, error)
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncUpload(result string)
	ObserveUploadDuration(seconds float64)
}

// Pointer is the JSON document written to SSM after each upload.
type Pointer struct {
	Name       string    `json:"name"`
	SHA256     string    `json:"sha256"`
	S3Bucket   string    `json:"s3_bucket"`
	S3Key      string    `json:"s3_key"`
	SizeBytes  int64     `json:"size_bytes"`
	Signature  string    `json:"signature,omitempty"` // base64, present when signing is configured
	UploadedAt time.Time `json:"uploaded_at"`
}

type Options struct {
	Logger log.Logger

	// S3 destination: s3://{bucket}/{prefix}/{name}
	S3Bucket string
	S3Prefix string

	// SSMParam receives the Pointer JSON for the latest bundle.
	// Empty disables the pointer write.
	SSMParam string

	// Signer signs archive digests. Nil disables signing.
	Signer DigestSigner

	// Metrics receives upload observability signals. May be nil.
	Metrics Metrics
}

type Uploader struct {
	opts      Options
	s3Client  s3PutAPI
	ssmClient ssmPutAPI
	logger    log.Logger
}

// New creates an Uploader from a loaded AWS config.
func New(awsCfg aws.Config, opts Options) (*Uploader, error) {
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Uploader{
		opts:      opts,
		s3Client:  s3.NewFromConfig(awsCfg),
		ssmClient: ssm.NewFromConfig(awsCfg),
		logger:    opts.Logger,
	}, nil
}

// s3Key returns the object key for an archive name.
func (u *Uploader) s3Key(name string) string {
	if u.opts.S3Prefix != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(u.opts.S3Prefix, "/"), name)
	}
	return name
}

// Upload ships one bundle and records the pointer. The archive stays on
// local disk either way; upload failure is reported but not fatal to
// bundle generation.
func (u *Uploader) Upload(ctx context.Context, res *bundle.Result) (*Pointer, error) {
	start := time.Now()
	p, err := u.upload(ctx, res)
	dur := time.Since(start).Seconds()

	if m := u.opts.Metrics; m != nil {
		m.ObserveUploadDuration(dur)
		if err != nil {
			m.IncUpload("error")
		} else {
			m.IncUpload("success")
		}
	}
	if err != nil {
		return nil, err
	}

	u.logger.Info(ctx, "bundle uploaded",
		"bundle", res.Name,
		"s3_key", p.S3Key,
		"sha256", res.SHA256,
		"signed", p.Signature != "",
		"duration_seconds", dur,
	)
	return p, nil
}

func (u *Uploader) upload(ctx context.Context, res *bundle.Result) (*Pointer, error) {
	f, err := os.Open(res.Path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open bundle %s", res.Path)
	}
	defer f.Close()

	key := u.s3Key(res.Name)

	var sig string
	if u.opts.Signer != nil {
		raw, err := u.opts.Signer.SignHex(ctx, res.SHA256)
		if err != nil {
			return nil, xerrors.Wrapf(err, "sign bundle %s", res.Name)
		}
		sig = base64.StdEncoding.EncodeToString(raw)
	}

	put := &s3.PutObjectInput{
		Bucket:        aws.String(u.opts.S3Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String("application/zip"),
		ContentLength: aws.Int64(res.SizeBytes),
		Metadata: map[string]string{
			"sha256": res.SHA256,
		},
	}
	if sig != "" {
		put.Metadata["signature"] = sig
	}

	if _, err := u.s3Client.PutObject(ctx, put); err != nil {
		return nil, xerrors.Wrapf(err, "put s3://%s/%s", u.opts.S3Bucket, key)
	}

	p := &Pointer{
		Name:       res.Name,
		SHA256:     res.SHA256,
		S3Bucket:   u.opts.S3Bucket,
		S3Key:      key,
		SizeBytes:  res.SizeBytes,
		Signature:  sig,
		UploadedAt: time.Now().UTC(),
	}

	if u.opts.SSMParam != "" {
		doc, err := json.Marshal(p)
		if err != nil {
			return nil, xerrors.Wrap(err, "marshal bundle pointer")
		}
		_, err = u.ssmClient.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(u.opts.SSMParam),
			Value:     aws.String(string(doc)),
			Type:      ssmtypes.ParameterTypeString,
			Overwrite: aws.Bool(true),
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "put SSM parameter %s", u.opts.SSMParam)
		}
	}

	return p, nil
}
