// Package minio wraps minio-go for reading small objects, such as a static
// JSON Web Key Set mirror, from S3-compatible storage. Calls are traced with
// OpenTelemetry and failures are returned as [*sserr.Error].
//
//	cfg := minio.DefaultConfig()
//	cfg.AccessKey = "reader"
//	cfg.SecretKey = minio.Secret(os.Getenv("MINIO_SECRET_KEY"))
//	client, err := minio.NewClient(ctx, *cfg)
//
// Use [NewFromStore] to inject a mock [ObjectStore] in tests.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

const tracerName = "github.com/firstech/identity-core/pkg/clients/minio"

// ObjectStore is the part of the S3 API the client uses. GetObject returns
// an io.ReadCloser rather than *minio.Object so that it can be mocked;
// [NewClient] adapts *minio.Client.
type ObjectStore interface {
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// sdkStore adapts *minio.Client to [ObjectStore].
type sdkStore struct {
	*minio.Client
}

// GetObject returns the *minio.Object as an io.ReadCloser.
func (s sdkStore) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return s.Client.GetObject(ctx, bucketName, objectName, opts)
}

var _ ObjectStore = sdkStore{}

// Client is safe for concurrent use.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, builds a minio-go client and probes the
// endpoint with BucketExists on the health bucket, which need not exist.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: endpoint unreachable or credentials rejected
//   - [sserr.CodeInternalDatabase]: client construction failed
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "minio: failed to create client")
	}

	if _, err := mc.BucketExists(ctx, cfg.healthBucket()); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"minio: failed to connect to server")
	}

	return &Client{
		store:  sdkStore{mc},
		config: &cfg,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// NewFromStore wraps an existing store. cfg may be nil.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// ReadObject returns the content of bucket/object. Objects larger than
// maxBytes are rejected with [sserr.CodeValidationRange]; a missing bucket
// or key is [sserr.CodeNotFound].
func (c *Client) ReadObject(ctx context.Context, bucket, object string, maxBytes int64) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "ReadObject", bucket, fmt.Sprintf("GET %s/%s", bucket, object))

	data, err := c.readObject(ctx, bucket, object, maxBytes)
	finishSpan(span, err)
	return data, err
}

func (c *Client) readObject(ctx context.Context, bucket, object string, maxBytes int64) ([]byte, error) {
	obj, err := c.store.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapError(err, "minio: get object failed")
	}
	defer func() { _ = obj.Close() }()

	// minio-go defers the request until the first read, so a missing key
	// surfaces here.
	data, err := io.ReadAll(io.LimitReader(obj, maxBytes+1))
	if err != nil {
		return nil, wrapError(err, "minio: read object failed")
	}
	if int64(len(data)) > maxBytes {
		return nil, sserr.Newf(sserr.CodeValidationRange,
			"minio: object %s/%s exceeds %d bytes", bucket, object, maxBytes)
	}
	return data, nil
}

// WriteObject uploads data as bucket/object with the given content type.
func (c *Client) WriteObject(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	ctx, span := c.startSpan(ctx, "WriteObject", bucket, fmt.Sprintf("PUT %s/%s", bucket, object))

	_, err := c.store.PutObject(ctx, bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: put object failed")
	}
	return nil
}

// EnsureBucket creates bucket unless it already exists.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	ctx, span := c.startSpan(ctx, "EnsureBucket", bucket, "MAKEBUCKET "+bucket)

	err := c.ensureBucket(ctx, bucket)
	finishSpan(span, err)
	return err
}

func (c *Client) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := c.store.BucketExists(ctx, bucket)
	if err != nil {
		return wrapError(err, "minio: bucket exists failed")
	}
	if exists {
		return nil
	}
	if err := c.store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return wrapError(err, "minio: make bucket failed")
	}
	return nil
}

// Health probes the endpoint. Without a caller deadline it is bounded by
// [DefaultHealthTimeout].
func (c *Client) Health(ctx context.Context) error {
	bucket := c.config.healthBucket()
	ctx, span := c.startSpan(ctx, "Health", bucket, "BucketExists "+bucket)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

// Close is a no-op; minio-go holds no pooled state worth releasing.
func (c *Client) Close() {}

// Store returns the wrapped [ObjectStore].
func (c *Client) Store() ObjectStore {
	return c.store
}

func (c *Client) startSpan(ctx context.Context, op, bucket, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucket),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a storage error. Missing buckets and keys become
// [sserr.CodeNotFound], deadlines [sserr.CodeTimeoutDatabase], and the rest
// [sserr.CodeInternalDatabase].
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return sserr.Wrap(err, sserr.CodeNotFound, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
