package cryptoutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// kmsSignAPI is the subset of the KMS API needed to sign bundle digests.
// Extracted as an interface to enable unit testing without live AWS credentials.
type kmsSignAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSSigner signs archive digests with an asymmetric KMS key so uploaded
// bundles carry a provenance signature alongside their checksum.
type KMSSigner struct {
	client kmsSignAPI
	keyARN string

	// signing algorithm resolved from key metadata, cached after first use
	mu   sync.RWMutex
	algo kmstypes.SigningAlgorithmSpec
}

func NewKMSSigner(client *kms.Client, keyARN string) *KMSSigner {
	return &KMSSigner{client: client, keyARN: keyARN}
}

// SignDigest signs a raw SHA-256 digest and returns the signature bytes.
func (s *KMSSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, xerrors.Newf("digest must be %d bytes, got %d", sha256.Size, len(digest))
	}

	algo, err := s.signingAlgorithm(ctx)
	if err != nil {
		return nil, err
	}

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyARN),
		Message:          digest,
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: algo,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "kms sign")
	}
	return out.Signature, nil
}

// SignHex signs a hex-encoded SHA-256 digest, the form the bundle manifest
// records, and returns the signature bytes.
func (s *KMSSigner) SignHex(ctx context.Context, hexDigest string) ([]byte, error) {
	digest, err := hex.DecodeString(hexDigest)
	if err != nil {
		return nil, xerrors.Wrap(err, "decode hex digest")
	}
	return s.SignDigest(ctx, digest)
}

// signingAlgorithm fetches the key metadata once to pick a SHA-256 signing
// algorithm matching the key type, then caches the choice.
func (s *KMSSigner) signingAlgorithm(ctx context.Context) (kmstypes.SigningAlgorithmSpec, error) {
	s.mu.RLock()
	if s.algo != "" {
		defer s.mu.RUnlock()
		return s.algo, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// double-check after acquiring write lock
	if s.algo != "" {
		return s.algo, nil
	}

	if s.client == nil {
		return "", xerrors.New("kms client is not configured")
	}

	out, err := s.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(s.keyARN),
	})
	if err != nil {
		return "", xerrors.Wrap(err, "kms get public key")
	}

	// ensure the key is valid for signing - sanity check before we cache an algorithm for a key that cannot sign
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return "", xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", s.keyARN, out.KeyUsage)
	}

	for _, a := range out.SigningAlgorithms {
		switch a {
		case kmstypes.SigningAlgorithmSpecEcdsaSha256,
			kmstypes.SigningAlgorithmSpecRsassaPssSha256:
			s.algo = a
			return s.algo, nil
		}
	}
	return "", xerrors.Newf("kms key %s offers no SHA-256 signing algorithm (got %v)", s.keyARN, out.SigningAlgorithms)
}
