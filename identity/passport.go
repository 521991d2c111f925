package identity

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheEntry is a rendered document and the instant it stops matching the
// registry on its own, when one of its entries lapses.
type CacheEntry struct {
	Doc        *DidDoc
	ValidUntil time.Time
}

// Fresh reports whether the document still holds at now.
func (ce *CacheEntry) Fresh(now time.Time) bool {
	return ce.ValidUntil.IsZero() || now.Before(ce.ValidUntil)
}

// BackingCache stores rendered documents under CacheKey(did, mode). Documents
// handed out by a cache are shared and must not be mutated.
type BackingCache interface {
	GetDoc(key string) (*CacheEntry, bool)
	PutDoc(did string, mode Mode, entry *CacheEntry) error
	BustDoc(did string) error
}

func CacheKey(did string, mode Mode) string {
	return did + "|" + string(mode)
}

type skipCacheKey struct{}

// WithSkipCache makes FetchDoc go to the registry and refresh the cache.
func WithSkipCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipCacheKey{}, true)
}

// Passport sits in front of a Resolver. Concurrent fetches of the same
// document share one resolution.
type Passport struct {
	r      *Resolver
	bc     BackingCache
	sf     singleflight.Group
	logger *slog.Logger
}

// NewPassport wraps r. A nil bc disables caching.
func NewPassport(r *Resolver, bc BackingCache, logger *slog.Logger) *Passport {
	if logger == nil {
		logger = slog.Default()
	}

	return &Passport{
		r:      r,
		bc:     bc,
		logger: logger,
	}
}

func (p *Passport) Resolver() *Resolver {
	return p.r
}

// FetchDoc returns the document of did in mode. A caller that gives up gets
// its own ctx error; the shared resolution carries on for the others, bounded
// by the resolver timeout.
func (p *Passport) FetchDoc(ctx context.Context, did string, mode Mode) (*DidDoc, error) {
	if mode == "" {
		mode = p.r.Mode()
	}

	key := CacheKey(did, mode)
	skipCache, _ := ctx.Value(skipCacheKey{}).(bool)

	if p.bc != nil && !skipCache {
		if cached, ok := p.bc.GetDoc(key); ok && cached.Fresh(p.r.now()) {
			return cached.Doc, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := p.sf.DoChan(key, func() (any, error) {
		timeout := p.r.timeout
		if timeout <= 0 {
			timeout = DefaultResolveTimeout
		}

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		st, err := p.r.ResolveState(sctx, did)
		if err != nil {
			return nil, err
		}

		entry := &CacheEntry{
			Doc:        FormatDocument(st, mode),
			ValidUntil: st.ValidUntil,
		}

		if p.bc != nil {
			if err := p.bc.PutDoc(did, mode, entry); err != nil {
				p.logger.Error("error caching document", "did", did, "error", err)
			}
		}

		return entry, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CacheEntry).Doc, nil
	}
}

func (p *Passport) BustDoc(ctx context.Context, did string) error {
	if p.bc == nil {
		return nil
	}
	return p.bc.BustDoc(did)
}
