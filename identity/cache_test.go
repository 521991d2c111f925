package identity

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDbCache(t *testing.T) *DbCache {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "cache.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	dc, err := NewDbCache(db, time.Minute)
	require.NoError(t, err)

	return dc
}

func TestDbCacheRoundTrip(t *testing.T) {
	dc := newTestDbCache(t)
	doc := FormatDocument(replay(attrEvent(vmName, []byte{0x01}, future)), ModeReference)

	_, ok := dc.GetDoc(CacheKey(testDid, ModeReference))
	assert.False(t, ok)

	require.NoError(t, dc.PutDoc(testDid, ModeReference, &CacheEntry{Doc: doc}))
	// a second put replaces the entry
	require.NoError(t, dc.PutDoc(testDid, ModeReference, &CacheEntry{Doc: doc}))

	entry, ok := dc.GetDoc(CacheKey(testDid, ModeReference))
	require.True(t, ok)
	assert.True(t, entry.ValidUntil.IsZero())
	cached := entry.Doc
	assert.Equal(t, doc.Id, cached.Id)
	assert.Equal(t, Ids(doc.Authentication), Ids(cached.Authentication))
	require.NotNil(t, cached.Authentication[0].Method)
	assert.Equal(t, doc.VerificationMethod, cached.VerificationMethod)

	_, ok = dc.GetDoc(CacheKey(testDid, ModeExplicit))
	assert.False(t, ok)
}

func TestDbCacheBustAndExpiry(t *testing.T) {
	dc := newTestDbCache(t)
	doc := &CacheEntry{Doc: FormatDocument(replay(), ModeExplicit)}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dc.now = func() time.Time { return base }

	require.NoError(t, dc.PutDoc(testDid, ModeExplicit, doc))
	require.NoError(t, dc.PutDoc(testDid, ModeReference, doc))
	require.NoError(t, dc.PutDoc("did:lac1:other", ModeExplicit, doc))

	require.NoError(t, dc.BustDoc(testDid))
	_, ok := dc.GetDoc(CacheKey(testDid, ModeExplicit))
	assert.False(t, ok)
	_, ok = dc.GetDoc(CacheKey(testDid, ModeReference))
	assert.False(t, ok)
	_, ok = dc.GetDoc(CacheKey("did:lac1:other", ModeExplicit))
	assert.True(t, ok)

	dc.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = dc.GetDoc(CacheKey("did:lac1:other", ModeExplicit))
	assert.False(t, ok)

	n, err := dc.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, dc.PutDoc(testDid, ModeExplicit, doc))
	n, err = dc.Purge()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDbCacheExpiresWhenEntryLapses(t *testing.T) {
	dc := newTestDbCache(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dc.now = func() time.Time { return base }

	entry := &CacheEntry{
		Doc:        FormatDocument(replay(), ModeExplicit),
		ValidUntil: base.Add(10 * time.Second),
	}
	require.NoError(t, dc.PutDoc(testDid, ModeExplicit, entry))

	cached, ok := dc.GetDoc(CacheKey(testDid, ModeExplicit))
	require.True(t, ok)
	assert.True(t, entry.ValidUntil.Equal(cached.ValidUntil))

	// well inside the one minute ttl, but past the lapse
	dc.now = func() time.Time { return base.Add(10 * time.Second) }
	_, ok = dc.GetDoc(CacheKey(testDid, ModeExplicit))
	assert.False(t, ok)

	n, err := dc.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCacheEntryFresh(t *testing.T) {
	assert.True(t, (&CacheEntry{}).Fresh(testNow))

	ce := &CacheEntry{ValidUntil: testNow.Add(time.Second)}
	assert.True(t, ce.Fresh(testNow))
	assert.False(t, ce.Fresh(testNow.Add(time.Second)))
}

func TestMemCacheBustsBothModes(t *testing.T) {
	mc := NewMemCache(4, 0)
	doc := &CacheEntry{Doc: FormatDocument(replay(), ModeExplicit)}

	require.NoError(t, mc.PutDoc(testDid, ModeExplicit, doc))
	require.NoError(t, mc.PutDoc(testDid, ModeReference, doc))
	assert.Equal(t, 2, mc.Len())

	got, ok := mc.GetDoc(CacheKey(testDid, ModeExplicit))
	require.True(t, ok)
	assert.Same(t, doc, got)

	require.NoError(t, mc.BustDoc(testDid))
	assert.Zero(t, mc.Len())
}
