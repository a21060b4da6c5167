package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

const (
	pipelinePrefix  = "pipelines/"
	compositePrefix = "composites/"
)

// BlobStore is a DefinitionStore backed by Azure Blob Storage. Shared-key
// authentication keeps it compatible with local Azurite instances over
// plain HTTP.
type BlobStore struct {
	client        *azblob.Client
	containerName string
	logger        *zap.Logger

	mu            sync.Mutex
	containerInit bool
}

// NewBlobStore creates a blob-backed definition store from a standard
// Azure storage connection string.
func NewBlobStore(connectionString, containerName string, logger *zap.Logger) (*BlobStore, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStore{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

func (b *BlobStore) SaveDefinition(ctx context.Context, def *pipeline.Definition) error {
	if def == nil || def.ID == "" {
		return errors.New("definition requires an id")
	}
	data, err := def.Marshal()
	if err != nil {
		return err
	}
	return b.upload(ctx, pipelinePrefix+def.ID+".json", data)
}

func (b *BlobStore) LoadDefinition(ctx context.Context, id string) (*pipeline.Definition, error) {
	data, err := b.download(ctx, pipelinePrefix+id+".json")
	if err != nil {
		return nil, err
	}
	return pipeline.ParseDefinition(data)
}

func (b *BlobStore) ListDefinitions(ctx context.Context) ([]string, error) {
	return b.list(ctx, pipelinePrefix)
}

func (b *BlobStore) DeleteDefinition(ctx context.Context, id string) error {
	_, err := b.client.DeleteBlob(ctx, b.containerName, pipelinePrefix+id+".json", nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return ErrNotFound
	}
	return err
}

func (b *BlobStore) SaveComposite(ctx context.Context, def *pipeline.CompositeDefinition) error {
	if def == nil || def.CompositeID == "" {
		return errors.New("composite definition requires an id")
	}
	data, err := def.Marshal()
	if err != nil {
		return err
	}
	return b.upload(ctx, compositePrefix+def.CompositeID+".json", data)
}

func (b *BlobStore) LoadComposite(ctx context.Context, id string) (*pipeline.CompositeDefinition, error) {
	data, err := b.download(ctx, compositePrefix+id+".json")
	if err != nil {
		return nil, err
	}
	return pipeline.ParseComposite(data)
}

func (b *BlobStore) ListComposites(ctx context.Context) ([]string, error) {
	return b.list(ctx, compositePrefix)
}

func (b *BlobStore) upload(ctx context.Context, blobPath string, data []byte) error {
	if err := b.ensureContainer(ctx); err != nil {
		return err
	}
	blobClient := b.client.ServiceClient().
		NewContainerClient(b.containerName).
		NewBlockBlobClient(blobPath)

	_, err := blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/json"),
		},
	})
	if err != nil {
		b.logger.Error("blob upload failed",
			zap.String("blob_path", blobPath),
			zap.Int("size_bytes", len(data)),
			zap.Error(err))
		return fmt.Errorf("blob upload failed: %w", err)
	}
	b.logger.Debug("uploaded definition",
		zap.String("blob_path", blobPath),
		zap.Int("size_bytes", len(data)))
	return nil
}

func (b *BlobStore) download(ctx context.Context, blobPath string) ([]byte, error) {
	blobClient := b.client.ServiceClient().
		NewContainerClient(b.containerName).
		NewBlobClient(blobPath)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}
	return data, nil
}

func (b *BlobStore) list(ctx context.Context, prefix string) ([]string, error) {
	pager := b.client.NewListBlobsFlatPager(b.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	var ids []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*item.Name, prefix)
			ids = append(ids, strings.TrimSuffix(path.Base(name), ".json"))
		}
	}
	return ids, nil
}

func (b *BlobStore) ensureContainer(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.containerInit {
		return nil
	}
	_, err := b.client.CreateContainer(ctx, b.containerName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to ensure container: %w", err)
	}
	b.containerInit = true
	return nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}
