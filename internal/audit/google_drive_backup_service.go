package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"
)

const (
	rootBackupsFolderName = "casinoscope-audit-backup"
	eventsFileChunkSize   = 500 // number of audit events in one backup file
	eventsFetchLimit      = 100000
)

// GoogleDriveBackupService archives the append-only security audit log to
// Google Drive; the audit table itself is retained indefinitely, the archive
// is a second copy living outside the database
type GoogleDriveBackupService struct {
	repo            eventsRepo
	service         *drive.Service
	shareWithEmail  string
	backupsFolderId string
}

func NewGoogleDriveBackupService(
	ctx context.Context,
	credentialsJson []byte,
	shareWithEmail string,
	repo eventsRepo,
) (*GoogleDriveBackupService, error) {
	driveService, err := drive.NewService(ctx, option.WithCredentialsJSON(credentialsJson))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve drive client: %w", err)
	}

	rootFolderQuery := fmt.Sprintf(
		"mimeType = 'application/vnd.google-apps.folder' and trashed = false and name = '%s'",
		rootBackupsFolderName,
	)
	auditBackupFolder, err := driveService.
		Files.List().
		Q(rootFolderQuery).
		Fields("files(id, name)").
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve files: %w", err)
	}

	backupsFolderId := ""
	if len(auditBackupFolder.Files) >= 1 {
		rbf := auditBackupFolder.Files[0]
		log.Printf("root backups folder found, %s: %s", rbf.Name, rbf.Id)
		backupsFolderId = rbf.Id
	}

	s := &GoogleDriveBackupService{
		repo:           repo,
		service:        driveService,
		shareWithEmail: shareWithEmail,
	}

	if backupsFolderId == "" {
		log.Println("root backups folder not found, recreating ...")
		backupsFolderId, err = s.createRootBackupsFolder()
		if err != nil {
			return nil, fmt.Errorf("failed to create root backups folder: %w", err)
		}
		log.Printf("new root backups folder created: %s", backupsFolderId)
	}

	s.backupsFolderId = backupsFolderId

	return s, nil
}

func (s *GoogleDriveBackupService) DoBackup(ctx context.Context, baseTime time.Time) (err error) {
	ctx, span := tracing.GlobalBackupTracer.Start(ctx, "auditBackup.doBackup")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	currentAllBackupFiles, err := s.getAuditBackupFiles(s.backupsFolderId)
	if err != nil {
		return err
	}

	lastCreatedAt := time.Time{}
	for _, file := range currentAllBackupFiles {
		createdAt, err := time.Parse(time.RFC3339, file.CreatedTime)
		if err != nil {
			log.Printf(" ---> error parsing created at for file %s: %s", file.Name, err)
			continue
		}
		log.Printf(" -- [%v]: %s (%s)\n", createdAt, file.Name, file.Id)

		if createdAt.After(lastCreatedAt) {
			lastCreatedAt = createdAt
		}
	}

	eventsToBackup, err := s.repo.ListAfter(ctx, lastCreatedAt, eventsFetchLimit)
	if err != nil {
		return fmt.Errorf("failed to get next backup events: %w", err)
	}

	if len(eventsToBackup) == 0 {
		log.Println("no new audit events to backup, done")
		return nil
	}

	span.SetAttributes(attribute.Int("backup.events", len(eventsToBackup)))
	log.Printf(" ---- backing up %d audit events since %v", len(eventsToBackup), lastCreatedAt)

	nextBackupFileName := fmt.Sprintf("audit-events-%d-%d-%d", baseTime.Day(), baseTime.Month(), baseTime.Year())
	fileCounter := 1
	for {
		nameExists := false
		for _, file := range currentAllBackupFiles {
			if file.Name == (nextBackupFileName + "_1.json") {
				nameExists = true
				break
			}
		}
		if nameExists {
			fileCounter++
			nextBackupFileName = fmt.Sprintf("%s_%d", nextBackupFileName, fileCounter)
		} else {
			break
		}
	}

	if err := s.backupEvents(eventsToBackup, nextBackupFileName); err != nil {
		return fmt.Errorf("failed to backup events: %w", err)
	}

	log.Printf("next backup since %v successfully saved: %s", lastCreatedAt, nextBackupFileName)

	return nil
}

func (s *GoogleDriveBackupService) createRootBackupsFolder() (string, error) {
	backupsFolderMeta := &drive.File{
		Name:     rootBackupsFolderName,
		MimeType: "application/vnd.google-apps.folder",
	}

	bfRes, err := s.service.
		Files.Create(backupsFolderMeta).
		Fields("id").
		Do()
	if err != nil {
		return "", err
	}

	if pId, err := s.updateFilePermission(bfRes.Id); err != nil {
		return bfRes.Id, fmt.Errorf("failed to create additional permission for root backup folder: %s", err)
	} else {
		log.Printf("permission %s created for root backup folder %s", pId, bfRes.Id)
	}

	return bfRes.Id, nil
}

func (s *GoogleDriveBackupService) backupEvents(events []Event, baseFileName string) error {
	chunks := len(events) / eventsFileChunkSize
	fromIndex, toIndex := 0, eventsFileChunkSize
	if len(events)%eventsFileChunkSize > 0 {
		chunks++
	}

	if len(events) < eventsFileChunkSize {
		toIndex = len(events)
	}

	for i := 1; i <= chunks; i++ {
		nextFileName := fmt.Sprintf("%s_%d.json", baseFileName, i)
		nextEvents := events[fromIndex:toIndex]

		log.Printf("%s: create backup file with %d audit events [from %d to %d] ...", nextFileName, len(nextEvents), fromIndex, toIndex)

		nextEventsJson, err := json.Marshal(nextEvents)
		if err != nil {
			return fmt.Errorf("%s failed to marshal audit events: %w", nextFileName, err)
		}

		fileMeta := &drive.File{
			Name: nextFileName,
			// https://developers.google.com/drive/api/v3/mime-types
			MimeType: "application/vnd.google-apps.file",
			Parents:  []string{s.backupsFolderId},
		}

		nextBackupChunkFile, err := s.service.
			Files.Create(fileMeta).
			Fields("id, parents").
			Media(bytes.NewReader(nextEventsJson)).
			Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create events backup file: %w", nextFileName, err)
		}

		permissionId, err := s.updateFilePermission(nextBackupChunkFile.Id)
		if err != nil {
			return fmt.Errorf("%s: failed to create additional permission: %s", nextFileName, err)
		}

		log.Printf("%s: backup file [%s] [permission %s] saved: %s", nextFileName, fileMeta.Name, permissionId, nextBackupChunkFile.Id)

		fromIndex = toIndex
		toIndex = toIndex + eventsFileChunkSize
		if toIndex >= len(events) {
			toIndex = len(events)
		}
	}

	return nil
}

func (s *GoogleDriveBackupService) updateFilePermission(fileId string) (string, error) {
	if s.shareWithEmail == "" {
		return "", nil
	}

	permission := &drive.Permission{
		EmailAddress: s.shareWithEmail,
		Type:         "user",
		Role:         "reader",
	}

	createdPermission, err := s.service.Permissions.
		Create(fileId, permission).
		Do()
	if err != nil {
		return "", err
	}

	return createdPermission.Id, nil
}

func (s *GoogleDriveBackupService) getAuditBackupFiles(auditBackupFolderId string) ([]*drive.File, error) {
	abQuery := fmt.Sprintf(
		"'%s' in parents and mimeType != 'application/vnd.google-apps.folder' and trashed = false",
		auditBackupFolderId,
	)
	backups, err := s.service.
		Files.List().
		Q(abQuery).
		Fields("files(id, name, createdTime)").
		Do()
	if err != nil {
		return nil, err
	}

	return backups.Files, nil
}
