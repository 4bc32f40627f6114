package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBlobPath(t *testing.T) {
	at := time.Date(2026, 3, 4, 23, 30, 0, 0, time.FixedZone("x", -2*3600))
	tests := []struct {
		name string
		dl   DeadLetter
		want string
	}{
		{
			name: "full",
			dl:   DeadLetter{PipelineID: "orders", Kind: KindFailed, TrackingID: "abc", CreatedAt: at},
			want: "orders/failed/2026/03/05/abc.json",
		},
		{
			name: "defaults",
			dl:   DeadLetter{TrackingID: "abc", CreatedAt: at},
			want: "unknown/unexpected/2026/03/05/abc.json",
		},
		{
			name: "sanitised",
			dl:   DeadLetter{PipelineID: "a/b", Kind: KindMalformed, TrackingID: "x?y", CreatedAt: at},
			want: "a_b/malformed/2026/03/05/x_y.json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BlobPath(tt.dl))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ref, err := s.Put(ctx, DeadLetter{
		PipelineID: "orders",
		Kind:       KindUnexpected,
		Step:       "enrich",
		Reason:     "boom",
		Payload:    []byte(`{"id":1}`),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "orders/unexpected/"))
	assert.Equal(t, []string{ref}, s.Refs())
	assert.Equal(t, 1, s.Len())

	dl, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.NotEmpty(t, dl.TrackingID)
	assert.False(t, dl.CreatedAt.IsZero())
	assert.Equal(t, "enrich", dl.Step)
	assert.Equal(t, `{"id":1}`, string(dl.Payload))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlainHTTP(t *testing.T) {
	assert.True(t, plainHTTP("AccountName=a;AccountKey=a2V5;BlobEndpoint=http://127.0.0.1:10000/a"))
	assert.True(t, plainHTTP("DefaultEndpointsProtocol=http; AccountName=a;AccountKey=a2V5"))
	assert.False(t, plainHTTP("DefaultEndpointsProtocol=https;AccountName=a;AccountKey=a2V5;;junk"))
}

func TestNewAzureBlobStore(t *testing.T) {
	tests := []struct {
		name        string
		conn        string
		container   string
		errContains string
		wantURL     string
	}{
		{name: "empty connection string", container: "c", errContains: "connection string is required"},
		{name: "empty container", conn: "AccountName=a;AccountKey=a2V5", errContains: "container name is required"},
		{name: "no account", conn: "DefaultEndpointsProtocol=https", container: "c", errContains: "invalid storage connection string"},
		{
			name:      "derived endpoint",
			conn:      "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=a2V5;EndpointSuffix=core.windows.net",
			container: "c",
			wantURL:   "https://acct.blob.core.windows.net/c",
		},
		{
			name:      "explicit endpoint",
			conn:      "AccountName=devstoreaccount1;AccountKey=a2V5;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1",
			container: "c",
			wantURL:   "http://127.0.0.1:10000/devstoreaccount1/c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewAzureBlobStore(tt.conn, tt.container, nil)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, s.ContainerURL())
		})
	}
}

func TestBlobName(t *testing.T) {
	s, err := NewAzureBlobStore("AccountName=a;AccountKey=a2V5;BlobEndpoint=http://127.0.0.1:10000/a", "dead", nil)
	require.NoError(t, err)

	for ref, want := range map[string]string{
		"http://127.0.0.1:10000/a/dead/p/failed/x.json?sig=1": "p/failed/x.json",
		"dead/p/failed/x.json":                                "p/failed/x.json",
		"/p/failed/x%20y.json":                                "p/failed/x y.json",
	} {
		got, err := s.blobName(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, want, got, ref)
	}

	_, err = s.blobName("  ")
	assert.Error(t, err)
}

// fakeBlobService implements the handful of Blob REST operations the store uses.
type fakeBlobService struct {
	mu         sync.Mutex
	containers map[string]bool
	blobs      map[string][]byte
}

func (f *fakeBlobService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPut && r.URL.Query().Get("restype") == "container":
		if f.containers[r.URL.Path] {
			w.Header().Set("x-ms-error-code", "ContainerAlreadyExists")
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.containers[r.URL.Path] = true
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.blobs[r.URL.Path] = body
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodGet:
		body, ok := f.blobs[r.URL.Path]
		if !ok {
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestAzureBlobStoreRoundTrip(t *testing.T) {
	fake := &fakeBlobService{containers: map[string]bool{}, blobs: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	conn := "AccountName=devstoreaccount1;AccountKey=a2V5;BlobEndpoint=" + srv.URL + "/devstoreaccount1"
	ctx := context.Background()

	first, err := NewAzureBlobStore(conn, "deadletters", zaptest.NewLogger(t))
	require.NoError(t, err)
	ref, err := first.Put(ctx, DeadLetter{
		TrackingID: "doc-1",
		PipelineID: "orders",
		Kind:       KindUnexpected,
		Reason:     "boom",
		Payload:    []byte(`{"id":1}`),
	})
	require.NoError(t, err)
	assert.Contains(t, ref, "/devstoreaccount1/deadletters/orders/unexpected/")

	dl, err := first.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", dl.TrackingID)
	assert.Equal(t, "boom", dl.Reason)

	// a second store finds the container already created
	second, err := NewAzureBlobStore(conn, "deadletters", nil)
	require.NoError(t, err)
	_, err = second.Put(ctx, DeadLetter{TrackingID: "doc-2", PipelineID: "orders", Kind: KindFailed})
	require.NoError(t, err)
	fake.mu.Lock()
	assert.Len(t, fake.blobs, 2)
	fake.mu.Unlock()

	_, err = second.Get(ctx, "orders/failed/2000/01/01/nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
