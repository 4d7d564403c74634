package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/clipforge/clipforge/internal/types"
)

// DriveExporter uploads rendered clips to Google Drive.
type DriveExporter struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveExporter creates a Drive exporter from an OAuth credentials file and
// a previously provisioned token file. The server never prompts interactively;
// a missing token is an error so the caller can fall back to local-only output.
func NewDriveExporter(credentialsFile, tokenFile, folderName string) (*DriveExporter, error) {
	ctx := context.Background()

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client, err := clientFromToken(oauthCfg, tokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	exp := &DriveExporter{
		service:    srv,
		folderName: folderName,
	}
	if err := exp.ensureFolder(); err != nil {
		return nil, err
	}
	return exp, nil
}

func clientFromToken(cfg *oauth2.Config, tokenFile string) (*http.Client, error) {
	f, err := os.Open(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("drive token unavailable (run the oauth bootstrap once): %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("unable to decode drive token: %w", err)
	}
	return cfg.Client(context.Background(), tok), nil
}

// ensureFolder finds or creates the export root folder.
func (e *DriveExporter) ensureFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		e.folderName)

	r, err := e.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("unable to search for folder: %w", err)
	}
	if len(r.Files) > 0 {
		e.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     e.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}
	file, err := e.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("unable to create folder: %w", err)
	}
	e.folderID = file.Id
	return nil
}

// ExportClip uploads a rendered clip file plus a metadata sidecar into a
// dated folder and returns a shareable link to the clip.
func (e *DriveExporter) ExportClip(jobID string, output types.Asset, result types.ProcessResult) (string, error) {
	now := time.Now()
	folderID, err := e.ensureDateFolder(now)
	if err != nil {
		return "", err
	}

	clipFile, err := os.Open(output.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to open rendered clip: %w", err)
	}
	defer clipFile.Close()

	meta := &drive.File{
		Name:    output.StoredName,
		Parents: []string{folderID},
	}
	created, err := e.service.Files.Create(meta).Media(clipFile).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload clip: %w", err)
	}

	sidecar := map[string]interface{}{
		"job_id":           jobID,
		"operation":        result.Operation,
		"clip_id":          result.ClipID,
		"duration_seconds": result.Duration,
		"size_bytes":       result.Size,
		"created_at":       now,
	}
	sidecarJSON, _ := json.MarshalIndent(sidecar, "", "  ")

	tmp, err := os.CreateTemp("", "clip-meta-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to stage metadata: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := tmp.Write(sidecarJSON); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return "", fmt.Errorf("failed to rewind metadata: %w", err)
	}

	metaFile := &drive.File{
		Name:    output.StoredName + ".meta.json",
		Parents: []string{folderID},
	}
	if _, err := e.service.Files.Create(metaFile).Media(tmp).Do(); err != nil {
		return "", fmt.Errorf("failed to upload metadata: %w", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// ensureDateFolder creates nested year/month/day folders.
func (e *DriveExporter) ensureDateFolder(t time.Time) (string, error) {
	yearID, err := e.findOrCreateFolder(fmt.Sprintf("%d", t.Year()), e.folderID)
	if err != nil {
		return "", err
	}
	monthID, err := e.findOrCreateFolder(fmt.Sprintf("%02d", t.Month()), yearID)
	if err != nil {
		return "", err
	}
	return e.findOrCreateFolder(fmt.Sprintf("%02d", t.Day()), monthID)
}

// findOrCreateFolder finds or creates a folder under the given parent.
func (e *DriveExporter) findOrCreateFolder(name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false",
		name, parentID)

	r, err := e.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{parentID},
	}
	file, err := e.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}
