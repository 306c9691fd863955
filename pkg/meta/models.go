package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Entry is a named DataMap. Encoded is the canonical CBOR of the map and
// the source of truth; the other columns are projections for listing.
type Entry struct {
	Name string `gorm:"primaryKey;type:varchar(1024)"`

	// Version is the DataMap ID (hash of Encoded).
	Version string `gorm:"index;type:char(64);not null"`

	// Revision is bumped on every save and guards concurrent updates.
	Revision int64 `gorm:"default:1"`

	Size       int64
	Type       int64
	ChunkCount int
	Encoded    []byte `gorm:"not null"`

	// Chunks lists {"cid","size"} per chunk so stores can be audited
	// without decoding every DataMap.
	Chunks datatypes.JSON

	UpdatedAt time.Time
}

func (Entry) TableName() string {
	return "datamaps"
}

type chunkProjection struct {
	Cid  string `json:"cid"`
	Size int64  `json:"size"`
}
