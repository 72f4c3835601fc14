package store

import (
	"time"

	"gorm.io/datatypes"
)

// KVEntry is one namespaced value in the local database. The room collection
// and the cloud credentials each occupy a single row.
type KVEntry struct {
	Namespace string         `gorm:"primaryKey"`
	Value     datatypes.JSON `gorm:"not null"`
	Revision  int64          `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}
