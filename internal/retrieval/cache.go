package retrieval

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/coderag/pkg/types"
)

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	results   []types.ContextualResult
	expiresAt time.Time
}

// responseCache is an LRU of search responses with a TTL. Entries are deep
// copied on the way in and out so callers never share slices with the cache.
type responseCache struct {
	mu  sync.Mutex
	lru *lru.Cache[[32]byte, *cacheEntry]
	ttl time.Duration
	now func() time.Time
}

// newResponseCache returns nil when size is not positive; a nil cache never hits
func newResponseCache(size int, ttl time.Duration) *responseCache {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[[32]byte, *cacheEntry](size)
	if err != nil {
		// Only reachable with a non-positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &responseCache{lru: c, ttl: ttl, now: time.Now}
}

func (c *responseCache) get(req Request) ([]types.ContextualResult, bool) {
	if c == nil {
		return nil, false
	}
	key := requestKey(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return copyResults(entry.results), true
}

func (c *responseCache) put(req Request, results []types.ContextualResult) {
	if c == nil || len(results) == 0 {
		return
	}
	entry := &cacheEntry{
		results:   copyResults(results),
		expiresAt: c.now().Add(c.ttl),
	}

	c.mu.Lock()
	c.lru.Add(requestKey(req), entry)
	c.mu.Unlock()
}

// purge drops every entry; called whenever the index changes
func (c *responseCache) purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

func (c *responseCache) size() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// requestKey hashes the fields of a request that change its response
func requestKey(req Request) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	fmt.Fprintf(&data, "|expand=%t|context=%t|k=%d", req.Expand, req.IncludeContext, req.TopK)
	return sha256.Sum256([]byte(data.String()))
}

// copyResults deep copies the slices reachable from results
func copyResults(src []types.ContextualResult) []types.ContextualResult {
	dst := make([]types.ContextualResult, len(src))
	for i, r := range src {
		dst[i] = r
		dst[i].Chunk = r.Chunk.Clone()
		if r.Commit != nil {
			commit := *r.Commit
			commit.ChangedFiles = append([]string(nil), r.Commit.ChangedFiles...)
			dst[i].Commit = &commit
		}
		dst[i].RelatedFiles = append([]string(nil), r.RelatedFiles...)
		dst[i].ExpandedQueries = append([]string(nil), r.ExpandedQueries...)
		if r.RelatedChunks != nil {
			dst[i].RelatedChunks = make([]types.RetrievalResult, len(r.RelatedChunks))
			for j, rc := range r.RelatedChunks {
				dst[i].RelatedChunks[j] = rc
				dst[i].RelatedChunks[j].Chunk = rc.Chunk.Clone()
			}
		}
	}
	return dst
}
