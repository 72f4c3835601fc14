package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"roomchat/pkg/domain"
)

const credentialsNamespace = "chatroom-cloud-credentials"

// LocalCredentialStore keeps the cloud credentials next to the local room data.
// Their presence is what switches the service to cloud mode on the next start.
type LocalCredentialStore struct {
	db *gorm.DB
}

func NewLocalCredentialStore(db *gorm.DB) *LocalCredentialStore {
	return &LocalCredentialStore{db: db}
}

func (s *LocalCredentialStore) Load(ctx context.Context) (domain.Credentials, bool, error) {
	var entry KVEntry
	err := s.db.WithContext(ctx).First(&entry, "namespace = ?", credentialsNamespace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Credentials{}, false, nil
	}
	if err != nil {
		return domain.Credentials{}, false, fmt.Errorf("load credentials: %w", err)
	}
	var creds domain.Credentials
	if err := json.Unmarshal(entry.Value, &creds); err != nil {
		return domain.Credentials{}, false, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, true, nil
}

func (s *LocalCredentialStore) Save(ctx context.Context, creds domain.Credentials) error {
	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current KVEntry
		rev := int64(0)
		err := tx.Select("revision").First(&current, "namespace = ?", credentialsNamespace).Error
		switch {
		case err == nil:
			rev = current.Revision
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("load credentials: %w", err)
		}
		return putEntry(tx, credentialsNamespace, payload, rev+1)
	})
}

// Clear removes the credentials; clearing twice is fine.
func (s *LocalCredentialStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Delete(&KVEntry{}, "namespace = ?", credentialsNamespace).Error
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
