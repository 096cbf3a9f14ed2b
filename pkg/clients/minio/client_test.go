package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/firstech/identity-core/internal/testutil"
	"github.com/firstech/identity-core/pkg/auth"
	sserr "github.com/firstech/identity-core/pkg/errors"
)

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

// errReader fails on the first read, the way a lazily fetched minio object
// reports a missing key.
type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func body(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

func TestNewFromStore(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)

	client := NewFromStore(m, nil)
	require.NotNil(t, client.config)
	assert.Same(t, m, client.Store())
}

func TestClient_ReadObject(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "keys", "jwks.json", minio.GetObjectOptions{}).
		Return(body(`{"keys":[]}`), nil)

	data, err := NewFromStore(m, nil).ReadObject(context.Background(), "keys", "jwks.json", 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"keys":[]}`, string(data))
}

func TestClient_ReadObject_ExactlyMaxBytes(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "keys", "jwks.json", mock.Anything).Return(body("12345"), nil)

	data, err := NewFromStore(m, nil).ReadObject(context.Background(), "keys", "jwks.json", 5)
	require.NoError(t, err)
	assert.Len(t, data, 5)
}

func TestClient_ReadObject_TooLarge(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "keys", "jwks.json", mock.Anything).Return(body("123456"), nil)

	_, err := NewFromStore(m, nil).ReadObject(context.Background(), "keys", "jwks.json", 5)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRange)
}

func TestClient_ReadObject_MissingKey(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	m.On("GetObject", mock.Anything, "keys", "jwks.json", mock.Anything).
		Return(io.NopCloser(errReader{missing}), nil)

	_, err := NewFromStore(m, nil).ReadObject(context.Background(), "keys", "jwks.json", 1024)
	testutil.RequireErrorCode(t, err, sserr.CodeNotFound)
}

func TestClient_ReadObject_MissingBucket(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "gone", "jwks.json", mock.Anything).
		Return(nil, minio.ErrorResponse{Code: "NoSuchBucket"})

	_, err := NewFromStore(m, nil).ReadObject(context.Background(), "gone", "jwks.json", 1024)
	testutil.RequireErrorCode(t, err, sserr.CodeNotFound)
}

func TestClient_ReadObject_Timeout(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "keys", "jwks.json", mock.Anything).
		Return(nil, context.DeadlineExceeded)

	_, err := NewFromStore(m, nil).ReadObject(context.Background(), "keys", "jwks.json", 1024)
	testutil.RequireErrorCode(t, err, sserr.CodeTimeoutDatabase)
	assert.True(t, sserr.IsRetryable(err))
}

func TestClient_ReadObject_OtherError(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "keys", "jwks.json", mock.Anything).
		Return(nil, minio.ErrorResponse{Code: "AccessDenied"})

	_, err := NewFromStore(m, nil).ReadObject(context.Background(), "keys", "jwks.json", 1024)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

func TestClient_WriteObject(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("PutObject", mock.Anything, "keys", "jwks.json", mock.MatchedBy(func(r io.Reader) bool {
		b, _ := io.ReadAll(r)
		return bytes.Equal(b, []byte("{}"))
	}), int64(2), minio.PutObjectOptions{ContentType: "application/json"}).
		Return(minio.UploadInfo{Size: 2}, nil)

	err := NewFromStore(m, nil).WriteObject(context.Background(), "keys", "jwks.json", []byte("{}"), "application/json")
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestClient_WriteObject_Error(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("PutObject", mock.Anything, "keys", "jwks.json", mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("connection reset"))

	err := NewFromStore(m, nil).WriteObject(context.Background(), "keys", "jwks.json", []byte("{}"), "")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

func TestClient_EnsureBucket(t *testing.T) {
	t.Parallel()

	t.Run("exists", func(t *testing.T) {
		t.Parallel()
		m := new(mockObjectStore)
		m.On("BucketExists", mock.Anything, "keys").Return(true, nil)

		require.NoError(t, NewFromStore(m, nil).EnsureBucket(context.Background(), "keys"))
		m.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("created", func(t *testing.T) {
		t.Parallel()
		m := new(mockObjectStore)
		m.On("BucketExists", mock.Anything, "keys").Return(false, nil)
		m.On("MakeBucket", mock.Anything, "keys", minio.MakeBucketOptions{Region: "eu-west-1"}).Return(nil)

		err := NewFromStore(m, &Config{Region: "eu-west-1"}).EnsureBucket(context.Background(), "keys")
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("make fails", func(t *testing.T) {
		t.Parallel()
		m := new(mockObjectStore)
		m.On("BucketExists", mock.Anything, "keys").Return(false, nil)
		m.On("MakeBucket", mock.Anything, "keys", mock.Anything).Return(errors.New("denied"))

		err := NewFromStore(m, nil).EnsureBucket(context.Background(), "keys")
		testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
	})
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), DefaultHealthBucket).Return(false, nil)

	require.NoError(t, NewFromStore(m, nil).Health(context.Background()))
	m.AssertExpectations(t)
}

func TestClient_Health_CustomBucket(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.Anything, "probe").Return(true, nil)

	require.NoError(t, NewFromStore(m, &Config{HealthBucket: "probe"}).Health(context.Background()))
}

func TestClient_Health_Error(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.Anything, mock.Anything).Return(false, errors.New("dial tcp: refused"))

	err := NewFromStore(m, nil).Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
}

func TestClient_Span(t *testing.T) {
	rec := testutil.RecordSpans(t)
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "keys", "jwks.json", mock.Anything).Return(body("{}"), nil)

	_, err := NewFromStore(m, nil).ReadObject(context.Background(), "keys", "jwks.json", 1024)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "minio.ReadObject", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("db.name", "keys"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("db.statement", "GET keys/jwks.json"))
}

func TestClient_BacksObjectKeySource(t *testing.T) {
	t.Parallel()
	doc := `{"keys":[]}`
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "keys", "jwks.json", mock.Anything).Return(body(doc), nil)

	src := auth.NewObjectKeySource(NewFromStore(m, nil), "keys", "jwks.json", 0)
	assert.Equal(t, "s3://keys/jwks.json", src.Name())

	got, err := src.FetchKeySet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc, string(got))
}
