// Package snapshot archives the raw HTML of pages whose status changed.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store persists one named blob and returns its URI.
type Store interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// Key builds the archive path for one captured page:
// <prefix>/<yyyy-mm-dd>/<urlhash>.html. The hash keeps keys stable
// across runs so the newest capture of a page wins.
func Key(prefix, rawURL string, now time.Time) string {
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%s/%s/%s.html", prefix, now.UTC().Format("2006-01-02"), hex.EncodeToString(sum[:])[:16])
}

// Archive adapts a Store to the engine's snapshot hook.
type Archive struct {
	store  Store
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

// NewArchive builds an Archive writing under prefix.
func NewArchive(store Store, prefix string, log *zap.Logger) *Archive {
	if prefix == "" {
		prefix = "pages"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{store: store, prefix: prefix, log: log, now: time.Now}
}

// Save archives one page body.
func (a *Archive) Save(ctx context.Context, rawURL string, page []byte) error {
	key := Key(a.prefix, rawURL, a.now())
	uri, err := a.store.Put(ctx, key, "text/html; charset=utf-8", page)
	if err != nil {
		return fmt.Errorf("archive %s: %w", rawURL, err)
	}
	a.log.Debug("page archived", zap.String("url", rawURL), zap.String("uri", uri))
	return nil
}
