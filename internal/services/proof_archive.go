// internal/services/proof_archive.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/errs"
)

// ProofArchive stores verification proof documents. Without S3 credentials
// the documents are kept in memory, which is enough for local development.
type ProofArchive struct {
	s3Client   s3iface.S3API
	bucket     string
	prefix     string
	presignTTL time.Duration

	mu    sync.RWMutex
	local map[string][]byte
}

type ArchivedProof struct {
	Key      string `json:"key"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
}

func NewProofArchive(cfg config.AWSConfig) (*ProofArchive, error) {
	archive := &ProofArchive{
		bucket:     cfg.ProofBucket,
		prefix:     cfg.ProofPrefix,
		presignTTL: time.Duration(cfg.PresignTTL) * time.Minute,
		local:      make(map[string][]byte),
	}
	if cfg.AccessKeyID == "" {
		return archive, nil
	}

	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	archive.s3Client = s3.New(sess)
	return archive, nil
}

// NewProofArchiveWithClient builds an archive over an existing S3 client.
func NewProofArchiveWithClient(client s3iface.S3API, bucket, prefix string) *ProofArchive {
	return &ProofArchive{
		s3Client:   client,
		bucket:     bucket,
		prefix:     prefix,
		presignTTL: 15 * time.Minute,
		local:      make(map[string][]byte),
	}
}

func (a *ProofArchive) key(produceID, verificationID string) string {
	return path.Join(a.prefix, produceID, verificationID+".json")
}

// Store writes the proof of one verification.
func (a *ProofArchive) Store(ctx context.Context, produceID, verificationID string, document []byte) (*ArchivedProof, error) {
	key := a.key(produceID, verificationID)

	if a.s3Client == nil {
		a.mu.Lock()
		a.local[key] = append([]byte(nil), document...)
		a.mu.Unlock()
		return &ArchivedProof{Key: key, Location: "memory://" + key, Size: int64(len(document))}, nil
	}

	_, err := a.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(document),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(document))),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "proof_archive.store", fmt.Errorf("failed to upload to S3: %w", err))
	}

	return &ArchivedProof{
		Key:      key,
		Location: fmt.Sprintf("s3://%s/%s", a.bucket, key),
		Size:     int64(len(document)),
	}, nil
}

// Load reads a stored proof back.
func (a *ProofArchive) Load(ctx context.Context, produceID, verificationID string) ([]byte, error) {
	key := a.key(produceID, verificationID)

	if a.s3Client == nil {
		a.mu.RLock()
		defer a.mu.RUnlock()
		document, ok := a.local[key]
		if !ok {
			return nil, errs.Newf(errs.KindNotFound, "proof_archive.load", "no proof stored at %s", key)
		}
		return append([]byte(nil), document...), nil
	}

	out, err := a.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "proof_archive.load", fmt.Errorf("failed to read from S3: %w", err))
	}
	defer out.Body.Close()

	document, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "proof_archive.load", err)
	}
	return document, nil
}

// PresignedURL links directly to a stored proof. It is empty for the
// in-memory archive.
func (a *ProofArchive) PresignedURL(produceID, verificationID string) (string, error) {
	if a.s3Client == nil {
		return "", nil
	}

	req, _ := a.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(produceID, verificationID)),
	})

	url, err := req.Presign(a.presignTTL)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url, nil
}
