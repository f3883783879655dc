package sink

import (
	"bytes"
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher"
	"gitlab.com/tozd/go/errors"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const pdfMimeType = "application/pdf"

// Drive actions recorded in stage details
const (
	DriveActionCreated = "created"
	DriveActionUpdated = "updated"
)

// DriveFile is the subset of file metadata the sink needs
type DriveFile struct {
	ID   string
	Name string
}

// DriveAPI is a cloud folder holding the published catalogs
type DriveAPI interface {
	// Search returns the first non-trashed file named name, or nil
	Search(ctx context.Context, name string) (*DriveFile, error)
	// Create uploads a new file and returns its ID
	Create(ctx context.Context, name string, content []byte) (string, error)
	// Update replaces the content of an existing file
	Update(ctx context.Context, id string, content []byte) error
}

// GoogleDrive implements DriveAPI over the Drive v3 API, scoped to one folder
type GoogleDrive struct {
	service  *drive.Service
	folderID string
}

// NewGoogleDrive authenticates with a service-account credentials file
func NewGoogleDrive(ctx context.Context, credentialsFile, folderID string) (*GoogleDrive, error) {
	if credentialsFile == "" {
		return nil, errors.New("drive service account file is not configured")
	}
	if folderID == "" {
		return nil, errors.New("drive folder id is not configured")
	}

	service, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveScope),
	)
	if err != nil {
		return nil, errors.Errorf("creating drive service: %w", err)
	}

	return &GoogleDrive{service: service, folderID: folderID}, nil
}

// Probe checks that the credentials are accepted
func (g *GoogleDrive) Probe(ctx context.Context) error {
	if _, err := g.service.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return errors.Errorf("drive auth probe: %w", err)
	}
	return nil
}

func (g *GoogleDrive) Search(ctx context.Context, name string) (*DriveFile, error) {
	list, err := g.service.Files.List().
		Q(searchQuery(name, g.folderID)).
		Spaces("drive").
		Fields("files(id, name)").
		PageSize(10).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, errors.Errorf("searching %s: %w", name, err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return &DriveFile{ID: list.Files[0].Id, Name: list.Files[0].Name}, nil
}

func (g *GoogleDrive) Create(ctx context.Context, name string, content []byte) (string, error) {
	file, err := g.service.Files.Create(&drive.File{
		Name:     name,
		Parents:  []string{g.folderID},
		MimeType: pdfMimeType,
	}).
		Media(bytes.NewReader(content), googleapi.ContentType(pdfMimeType)).
		Fields("id, name").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", errors.Errorf("creating %s: %w", name, err)
	}
	return file.Id, nil
}

func (g *GoogleDrive) Update(ctx context.Context, id string, content []byte) error {
	_, err := g.service.Files.Update(id, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType(pdfMimeType)).
		Fields("id, modifiedTime").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return errors.Errorf("updating %s: %w", id, err)
	}
	return nil
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func searchQuery(name, folderID string) string {
	return "name='" + queryEscaper.Replace(name) + "' and '" + queryEscaper.Replace(folderID) + "' in parents and trashed=false"
}

// DriveSink uploads catalogs under their original name, updating in place
// when a file with that name already exists in the folder
type DriveSink struct {
	api    DriveAPI
	logger zerolog.Logger
}

// NewDriveSink creates a cloud sink over api
func NewDriveSink(api DriveAPI, logger zerolog.Logger) *DriveSink {
	return &DriveSink{
		api:    api,
		logger: logger.With().Str("sink", "drive").Logger(),
	}
}

func (s *DriveSink) Stage() ledger.Stage {
	return ledger.StageCloud
}

func (s *DriveSink) Publish(ctx context.Context, item publisher.Item) (publisher.Receipt, error) {
	receipt := publisher.Receipt{Details: map[string]string{}}

	existing, err := s.api.Search(ctx, item.Name)
	if err != nil {
		return receipt, err
	}

	if existing != nil {
		receipt.Details["action"] = DriveActionUpdated
		receipt.Details["file_id"] = existing.ID
		if err := s.api.Update(ctx, existing.ID, item.Content); err != nil {
			return receipt, err
		}
		s.logger.Debug().Str("file", item.Name).Str("file_id", existing.ID).Msg("Catalog updated in drive")
		return receipt, nil
	}

	receipt.Details["action"] = DriveActionCreated
	id, err := s.api.Create(ctx, item.Name, item.Content)
	if err != nil {
		return receipt, err
	}
	receipt.Details["file_id"] = id
	s.logger.Debug().Str("file", item.Name).Str("file_id", id).Msg("Catalog created in drive")
	return receipt, nil
}

func (s *DriveSink) Close() error {
	return nil
}
