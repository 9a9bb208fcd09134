package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/storage"
)

const exportKeyPrefix = "exports/users-"

// DirectoryEntry is the exported view of one account. It never carries
// password material.
type DirectoryEntry struct {
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	Roles         []string  `json:"roles"`
	Permissions   []string  `json:"permissions"`
	CreatedOn     time.Time `json:"createdOn"`
	LastUpdatedOn time.Time `json:"lastUpdatedOn"`
	LastUpdatedBy string    `json:"lastUpdatedBy"`
}

type DirectorySnapshot struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Users       []DirectoryEntry `json:"users"`
}

// DirectoryExporter writes a JSON snapshot of all accounts to object storage.
type DirectoryExporter struct {
	credentials *CredentialStore
	storage     *storage.Storage
	now         func() time.Time
	logger      *slog.Logger
}

func NewDirectoryExporter(credentials *CredentialStore, store *storage.Storage, logger *slog.Logger) *DirectoryExporter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DirectoryExporter{
		credentials: credentials,
		storage:     store,
		now:         time.Now,
		logger:      logger,
	}
}

// Export uploads the snapshot and returns the object key.
func (e *DirectoryExporter) Export(ctx context.Context) (string, error) {
	users, err := e.credentials.ListUsers(ctx)
	if err != nil {
		return "", err
	}

	generatedAt := e.now().UTC()
	snapshot := DirectorySnapshot{
		GeneratedAt: generatedAt,
		Users:       make([]DirectoryEntry, 0, len(users)),
	}
	for _, u := range users {
		snapshot.Users = append(snapshot.Users, DirectoryEntry{
			FirstName:     u.FirstName,
			LastName:      u.LastName,
			Email:         u.Email,
			Roles:         u.Roles,
			Permissions:   u.Permissions,
			CreatedOn:     u.CreatedOn,
			LastUpdatedOn: u.LastUpdatedOn,
			LastUpdatedBy: u.LastUpdatedBy,
		})
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode directory snapshot: %w", err)
	}

	if err := e.storage.EnsureBucket(ctx); err != nil {
		return "", err
	}

	key := exportKeyPrefix + generatedAt.Format("20060102T150405Z") + ".json"
	err = e.storage.Put(ctx, storage.Object{
		Key:         key,
		Body:        payload,
		ContentType: "application/json",
		Metadata: map[string]string{
			"generated-at": generatedAt.Format(time.RFC3339),
			"user-count":   strconv.Itoa(len(users)),
		},
	})
	if err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "directory exported", "bucket", e.storage.Bucket(), "key", key, "users", len(users))
	return key, nil
}
