package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	panic("multipart upload not expected")
}

func (m *mockS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	panic("multipart upload not expected")
}

func (m *mockS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	panic("multipart upload not expected")
}

func (m *mockS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	panic("multipart upload not expected")
}

func TestImageKey(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"IMG_1234.JPG", "images/IMG_1234.JPG/original.jpg"},
		{"Summer trip 2024.heic", "images/Summer_trip_2024.heic/original.heic"},
		{"Žluťoučký kůň.png", "images/Zlutoucky_kun.png/original.png"},
		{"noext", "images/noext/original.jpg"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ImageKey(tc.name))
		})
	}
}

func TestS3StorePut(t *testing.T) {
	client := new(mockS3)
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return *in.Bucket == "photos" && *in.Key == "images/a.jpg/original.jpg" &&
			*in.ContentType == "image/jpeg" && string(body) == "jpeg-bytes"
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	store := NewS3StoreWithClient(client, "photos", "https://photos.s3.us-west-1.amazonaws.com/")
	url, err := store.Put(context.Background(), "images/a.jpg/original.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://photos.s3.us-west-1.amazonaws.com/images/a.jpg/original.jpg", url)
	client.AssertExpectations(t)
}

func TestS3StoreExists(t *testing.T) {
	client := new(mockS3)
	store := NewS3StoreWithClient(client, "photos", "https://example.com")

	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "present"
	})).Return(&s3.HeadObjectOutput{}, nil).Once()
	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "missing"
	})).Return(nil, &types.NotFound{}).Once()

	ok, err := store.Exists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMinIOStore(t *testing.T) {
	var uploaded string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/photos/images/b.png/original.png":
			body, _ := io.ReadAll(r.Body)
			uploaded = string(body)
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodHead && strings.HasSuffix(r.URL.Path, "/present"):
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.Header().Set("Content-Length", "4")
			w.Header().Set("Last-Modified", "Mon, 14 Jul 2024 18:32:05 GMT")
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store, err := NewMinIOStore(Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		Bucket:    "photos",
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "images/b.png/original.png", []byte("png!"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "png!", uploaded)
	assert.Equal(t, server.URL+"/photos/images/b.png/original.png", url)

	ok, err := store.Exists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ftp", Bucket: "x"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Backend: BackendMinIO})
	assert.Error(t, err)
}
