package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"go.uber.org/zap"
)

// AzureBlobStore archives dead letters as JSON blobs in one container,
// created on first write. Plain http endpoints such as a local Azurite
// instance are supported.
type AzureBlobStore struct {
	container *container.Client
	logger    *zap.Logger

	mu    sync.Mutex
	ready bool
}

var _ DeadLetterStore = (*AzureBlobStore)(nil)

// NewAzureBlobStore creates a store from a storage account connection string.
func NewAzureBlobStore(connectionString, containerName string, logger *zap.Logger) (*AzureBlobStore, error) {
	if strings.TrimSpace(connectionString) == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &container.ClientOptions{}
	opts.InsecureAllowCredentialWithHTTP = plainHTTP(connectionString)

	c, err := container.NewClientFromConnectionString(connectionString, containerName, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid storage connection string: %w", err)
	}
	return &AzureBlobStore{container: c, logger: logger}, nil
}

// plainHTTP reports whether the connection string targets an http endpoint.
func plainHTTP(connectionString string) bool {
	for _, setting := range strings.Split(connectionString, ";") {
		key, value, _ := strings.Cut(strings.TrimSpace(setting), "=")
		switch strings.ToLower(key) {
		case "blobendpoint":
			if strings.HasPrefix(strings.ToLower(value), "http://") {
				return true
			}
		case "defaultendpointsprotocol":
			if strings.EqualFold(value, "http") {
				return true
			}
		}
	}
	return false
}

// ContainerURL returns the URL of the dead-letter container.
func (a *AzureBlobStore) ContainerURL() string {
	return a.container.URL()
}

// Put uploads dl and returns the blob URL.
func (a *AzureBlobStore) Put(ctx context.Context, dl DeadLetter) (string, error) {
	if err := a.ensureContainer(ctx); err != nil {
		return "", err
	}

	dl = normalize(dl)
	data, err := encode(dl)
	if err != nil {
		return "", err
	}
	name := BlobPath(dl)
	bb := a.container.NewBlockBlobClient(name)

	_, err = bb.UploadBuffer(ctx, data, &blockblob.UploadBufferOptions{
		Metadata: map[string]*string{
			"tracking_id": to.Ptr(dl.TrackingID),
			"pipeline_id": to.Ptr(dl.PipelineID),
			"kind":        to.Ptr(string(dl.Kind)),
		},
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/json")},
	})
	if err != nil {
		a.logger.Error("Dead letter upload failed",
			zap.String("blob", name),
			zap.String("tracking_id", dl.TrackingID),
			zap.Error(err))
		return "", fmt.Errorf("failed to upload dead letter %s: %w", name, err)
	}

	a.logger.Debug("Dead letter uploaded",
		zap.String("blob", name),
		zap.Int("bytes", len(data)))
	return bb.URL(), nil
}

// Get downloads a dead letter by blob URL or container-relative name.
func (a *AzureBlobStore) Get(ctx context.Context, ref string) (*DeadLetter, error) {
	name, err := a.blobName(ref)
	if err != nil {
		return nil, err
	}

	resp, err := a.container.NewBlobClient(name).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to download dead letter %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter %s: %w", name, err)
	}
	return decode(data)
}

func (a *AzureBlobStore) ensureContainer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}
	if _, err := a.container.Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to create dead-letter container: %w", err)
	}
	a.ready = true
	return nil
}

// blobName reduces a blob URL, a name prefixed by the container, or a bare
// name to the name within the container.
func (a *AzureBlobStore) blobName(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	base := a.container.URL()

	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		u.RawQuery = ""
		ref = u.String()
	}
	if strings.HasPrefix(strings.ToLower(ref), strings.ToLower(base)) {
		ref = ref[len(base):]
	} else if b, err := url.Parse(base); err == nil {
		ref = strings.TrimPrefix(strings.TrimPrefix(ref, "/"), containerSegment(b)+"/")
	}
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}

	ref = strings.TrimPrefix(ref, "/")
	if ref == "" {
		return "", fmt.Errorf("dead letter reference is empty")
	}
	return ref, nil
}

// containerSegment returns the container segment of a container URL.
func containerSegment(u *url.URL) string {
	p := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
