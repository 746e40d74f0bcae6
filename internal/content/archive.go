// Archival cold-storage tier for the content store: version blobs beyond
// the configured per-file cap can be pushed to Azure Blob Storage and
// pruned from local disk.
package content

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
)

// ArchiveConfig is the subset of config needed to construct an Archiver;
// duplicated here (rather than importing internal/config) to keep this
// package free of a dependency on the process-level config package.
type ArchiveConfig struct {
	StorageAccount     string
	Container          string
	ConnectionString   string
	SASToken           string
	UseManagedIdentity bool
	TenantID           string
	ClientID           string
	ClientSecret       string
}

// Archiver pushes and fetches versioned blobs from an Azure Blob Storage
// container used purely as a cold tier for local retention pruning — not
// the primary content store, and not cross-site replication.
type Archiver struct {
	containerClient *container.Client
}

// NewArchiver builds an Archiver using whichever auth method is
// configured: connection string, SAS token, managed identity, or a
// client-secret service principal, in that priority order.
func NewArchiver(cfg ArchiveConfig) (*Archiver, error) {
	containerName := cfg.Container
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.StorageAccount)

	var svc *service.Client
	var err error

	switch {
	case cfg.ConnectionString != "":
		svc, err = service.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.SASToken != "":
		sasURL := serviceURL
		if !strings.HasPrefix(cfg.SASToken, "?") {
			sasURL += "?"
		}
		sasURL += cfg.SASToken
		svc, err = service.NewClientWithNoCredential(sasURL, nil)
	case cfg.UseManagedIdentity:
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			svc, err = service.NewClient(serviceURL, cred, nil)
		}
	case cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "":
		var cred *azidentity.ClientSecretCredential
		cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err == nil {
			svc, err = service.NewClient(serviceURL, cred, nil)
		}
	default:
		return nil, fmt.Errorf("no archive authentication method configured")
	}
	if err != nil {
		return nil, fmt.Errorf("creating archive blob client: %w", err)
	}

	return &Archiver{containerClient: svc.NewContainerClient(containerName)}, nil
}

func archivePath(name string, version int) string {
	return name + ".v" + strconv.Itoa(version)
}

// Upload pushes a version blob to the archive tier.
func (a *Archiver) Upload(ctx context.Context, name string, version int, blob []byte) error {
	blobClient := a.containerClient.NewBlockBlobClient(archivePath(name, version))
	_, err := blobClient.UploadBuffer(ctx, blob, nil)
	if err != nil {
		return fmt.Errorf("archiving %s v%d: %w", name, version, err)
	}
	return nil
}

// Download fetches a version blob from the archive tier.
func (a *Archiver) Download(ctx context.Context, name string, version int) ([]byte, error) {
	blobClient := a.containerClient.NewBlobClient(archivePath(name, version))
	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching archived %s v%d: %w", name, version, err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	for {
		chunk := make([]byte, 4096)
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
