package identity

import (
	"encoding/json"
	"time"

	"github.com/lacchain/lac1resolver/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DbCache keeps rendered documents in the service database so they survive
// restarts.
type DbCache struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewDbCache(db *gorm.DB, ttl time.Duration) (*DbCache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	if err := db.AutoMigrate(&models.CachedDoc{}); err != nil {
		return nil, err
	}

	return &DbCache{
		db:  db,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (dc *DbCache) GetDoc(key string) (*CacheEntry, bool) {
	var cached models.CachedDoc
	if err := dc.db.Raw("SELECT * FROM cached_docs WHERE cache_key = ? AND expires_at > ?", key, dc.now()).Scan(&cached).Error; err != nil {
		return nil, false
	}

	if cached.CacheKey == "" {
		return nil, false
	}

	var doc DidDoc
	if err := json.Unmarshal(cached.Document, &doc); err != nil {
		return nil, false
	}

	entry := &CacheEntry{Doc: &doc}
	if cached.ValidUntil != nil {
		entry.ValidUntil = *cached.ValidUntil
	}

	return entry, true
}

// PutDoc keeps entry for the cache ttl, or until it lapses if that is sooner.
func (dc *DbCache) PutDoc(did string, mode Mode, entry *CacheEntry) error {
	b, err := json.Marshal(entry.Doc)
	if err != nil {
		return err
	}

	now := dc.now()
	expiresAt := now.Add(dc.ttl)

	var validUntil *time.Time
	if !entry.ValidUntil.IsZero() {
		vu := entry.ValidUntil.UTC()
		validUntil = &vu
		if vu.Before(expiresAt) {
			expiresAt = vu
		}
	}

	return dc.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&models.CachedDoc{
		CacheKey:   CacheKey(did, mode),
		Did:        did,
		Mode:       string(mode),
		Document:   b,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		ValidUntil: validUntil,
	}).Error
}

func (dc *DbCache) BustDoc(did string) error {
	return dc.db.Exec("DELETE FROM cached_docs WHERE did = ?", did).Error
}

// PurgeExpired drops expired entries and reports how many were removed.
func (dc *DbCache) PurgeExpired() (int64, error) {
	res := dc.db.Exec("DELETE FROM cached_docs WHERE expires_at <= ?", dc.now())
	return res.RowsAffected, res.Error
}

func (dc *DbCache) Purge() (int64, error) {
	res := dc.db.Exec("DELETE FROM cached_docs")
	return res.RowsAffected, res.Error
}
