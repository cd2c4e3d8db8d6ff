package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestProofArchiveS3(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	archive := NewProofArchiveWithClient(client, "farmtrace-proofs", "verifications")

	stored, err := archive.Store(ctx, "p-1", "v-1", []byte(`{"status":"authentic"}`))
	require.NoError(t, err)
	assert.Equal(t, "verifications/p-1/v-1.json", stored.Key)
	assert.Equal(t, "s3://farmtrace-proofs/verifications/p-1/v-1.json", stored.Location)
	assert.Equal(t, int64(22), stored.Size)

	document, err := archive.Load(ctx, "p-1", "v-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"authentic"}`, string(document))

	_, err = archive.Load(ctx, "p-1", "missing")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestProofArchiveUploadFailureBecomesWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	client := newFakeS3()
	client.failPut = errors.New("AccessDenied")
	f.custody.archive = NewProofArchiveWithClient(client, "farmtrace-proofs", "verifications")

	farmer := f.farmer(t, "0712345678", "pending")
	p := f.batch(t, farmer.ID, 10, allPractices())
	f.track(t, p.ID, "warehouse")

	out, err := f.custody.Verify(ctx, &VerificationRequest{ProduceID: &p.ID, Method: "code_scan"})
	require.NoError(t, err)
	assert.True(t, out.Authentic)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "proof not archived")

	_, _, err = f.custody.Proof(ctx, out.VerificationID)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestProofArchiveInMemory(t *testing.T) {
	ctx := context.Background()
	archive := NewProofArchiveWithClient(nil, "", "proofs")

	_, err := archive.Load(ctx, "p-1", "v-1")
	assert.True(t, errs.Is(err, errs.KindNotFound))

	stored, err := archive.Store(ctx, "p-1", "v-1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "memory://proofs/p-1/v-1.json", stored.Location)

	url, err := archive.PresignedURL("p-1", "v-1")
	require.NoError(t, err)
	assert.Empty(t, url)
}
