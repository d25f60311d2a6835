package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapblast/config"
)

func TestPublicURLVariants(t *testing.T) {
	key := "campaigns/camp-1/2026/08/25/a.jpg"

	cases := []struct {
		name  string
		store Store
		want  string
	}{
		{
			name:  "aws virtual hosted",
			store: Store{bucket: "media", region: "us-east-1"},
			want:  "https://media.s3.us-east-1.amazonaws.com/" + key,
		},
		{
			name:  "aws path style",
			store: Store{bucket: "media", region: "us-east-1", pathStyle: true},
			want:  "https://s3.us-east-1.amazonaws.com/media/" + key,
		},
		{
			name:  "aws endpoint configured explicitly",
			store: Store{bucket: "media", region: "sa-east-1", endpoint: "https://s3.sa-east-1.amazonaws.com"},
			want:  "https://media.s3.sa-east-1.amazonaws.com/" + key,
		},
		{
			name:  "custom endpoint path style",
			store: Store{bucket: "media", endpoint: "https://minio.internal:9000", pathStyle: true},
			want:  "https://minio.internal:9000/media/" + key,
		},
		{
			name:  "custom endpoint trailing slash",
			store: Store{bucket: "media", endpoint: "https://minio.internal:9000/", pathStyle: true},
			want:  "https://minio.internal:9000/media/" + key,
		},
		{
			name:  "custom endpoint virtual hosted",
			store: Store{bucket: "media", endpoint: "https://storage.example.com"},
			want:  "https://media.storage.example.com/" + key,
		},
		{
			name:  "custom endpoint strips plain http scheme",
			store: Store{bucket: "media", endpoint: "http://storage.example.com"},
			want:  "https://media.storage.example.com/" + key,
		},
		{
			name:  "public url wins over everything",
			store: Store{bucket: "media", endpoint: "https://minio.internal:9000", publicURL: "https://cdn.example.com/"},
			want:  "https://cdn.example.com/media/" + key,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.store.PublicURL(key))
		})
	}
}

func TestObjectKeyIsDatePartitioned(t *testing.T) {
	key := objectKey("camp-1", "asset-77", ".png")
	want := fmt.Sprintf("campaigns/camp-1/%s/asset-77.png", time.Now().UTC().Format("2006/01/02"))
	assert.Equal(t, want, key)
}

func TestNewStoreDisabledWithoutBucket(t *testing.T) {
	store, err := NewStore(config.S3Config{})
	require.NoError(t, err)
	assert.False(t, store.Enabled())

	_, err = store.Upload(context.Background(), "k", []byte("x"), "image/png")
	assert.ErrorContains(t, err, "not configured")

	_, err = store.UploadDataURL(context.Background(), "camp-1", "data:image/png;base64,")
	assert.ErrorContains(t, err, "not configured")

	assert.ErrorContains(t, store.TestConnection(context.Background()), "not configured")
}

func TestNewStoreRequiresCredentials(t *testing.T) {
	_, err := NewStore(config.S3Config{Bucket: "media"})
	require.ErrorContains(t, err, "S3_ACCESS_KEY")
}

func TestNewStoreCleansBucketFromEndpoint(t *testing.T) {
	store, err := NewStore(config.S3Config{
		Bucket:    "media",
		Region:    "us-east-1",
		Endpoint:  "https://media.minio.internal:9000",
		AccessKey: "ak",
		SecretKey: "sk",
		PathStyle: true,
	})
	require.NoError(t, err)
	assert.True(t, store.Enabled())
	assert.Equal(t, "https://minio.internal:9000", store.endpoint)
}

func TestNewStoreForcesPathStyleForDottedBucket(t *testing.T) {
	store, err := NewStore(config.S3Config{
		Bucket:    "cdn.example.com",
		Region:    "us-east-1",
		AccessKey: "ak",
		SecretKey: "sk",
	})
	require.NoError(t, err)
	assert.True(t, store.pathStyle)
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMakeThumbnailShrinksWithinBounds(t *testing.T) {
	thumb, err := makeThumbnail(pngBytes(t, 800, 600))
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy(), "aspect ratio must be preserved")
}

func TestMakeThumbnailRejectsGarbage(t *testing.T) {
	_, err := makeThumbnail([]byte("definitely not an image"))
	require.ErrorContains(t, err, "decode image")
}

func TestUploadDataURLValidation(t *testing.T) {
	// Validation happens before any provider call, so an unreachable endpoint
	// is fine here.
	store, err := NewStore(config.S3Config{
		Bucket:    "media",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:1",
		AccessKey: "ak",
		SecretKey: "sk",
		PathStyle: true,
	})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.UploadDataURL(ctx, "camp-1", "not-a-data-url")
	assert.ErrorContains(t, err, "could not decode media payload")

	_, err = store.UploadDataURL(ctx, "camp-1", "data:text/plain;base64,aGVsbG8=")
	assert.ErrorContains(t, err, `unsupported media type "text/plain"`)

	_, err = store.UploadDataURL(ctx, "camp-1", "data:image/png;base64,")
	assert.ErrorContains(t, err, "media payload is empty")
}

func TestUploadDataURLStoresObjectAndThumbnail(t *testing.T) {
	type putRequest struct {
		path        string
		contentType string
	}
	var mu sync.Mutex
	var puts []putRequest

	s3stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		puts = append(puts, putRequest{path: r.URL.Path, contentType: r.Header.Get("Content-Type")})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s3stub.Close)

	store, err := NewStore(config.S3Config{
		Bucket:    "media",
		Region:    "us-east-1",
		Endpoint:  s3stub.URL,
		AccessKey: "ak",
		SecretKey: "sk",
		PathStyle: true,
	})
	require.NoError(t, err)

	source := pngBytes(t, 64, 48)
	raw := "data:image/png;base64," + base64.StdEncoding.EncodeToString(source)

	asset, err := store.UploadDataURL(context.Background(), "camp-9", raw)
	require.NoError(t, err)

	assert.Equal(t, "image/png", asset.Mime)
	assert.Equal(t, len(source), asset.Size)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, puts, 2, "one object and one thumbnail")

	assert.True(t, strings.HasPrefix(puts[0].path, "/media/campaigns/camp-9/"), "got %s", puts[0].path)
	assert.True(t, strings.HasSuffix(puts[0].path, ".png"))
	assert.Equal(t, "image/png", puts[0].contentType)

	assert.True(t, strings.HasSuffix(puts[1].path, "-thumb.jpg"), "got %s", puts[1].path)
	assert.Equal(t, "image/jpeg", puts[1].contentType)

	assert.Equal(t, s3stub.URL+puts[0].path, asset.URL)
	assert.Equal(t, s3stub.URL+puts[1].path, asset.ThumbURL)
	assert.NotEqual(t, asset.URL, asset.ThumbURL)
}
