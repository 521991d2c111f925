package models

import (
	"time"
)

// CachedDoc is a rendered DID document kept by the sqlite resolution cache.
// CacheKey is the did and the render mode joined by "|".
type CachedDoc struct {
	CacheKey  string `gorm:"primaryKey"`
	Did       string `gorm:"index"`
	Mode      string
	Document  []byte
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index:,sort:asc"`
	// ValidUntil is when the earliest entry of the document lapses, if ever.
	ValidUntil *time.Time
}
