package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
)

// mcpCache memoizes MCP call results within a single execution.
// The key covers the capability category and the fully resolved
// parameters, so two nodes issuing the same call share one result.
type mcpCache struct {
	mu      sync.RWMutex
	results map[string]map[string]any
}

func newMCPCache() *mcpCache {
	return &mcpCache{results: make(map[string]map[string]any)}
}

// cacheKey hashes the category plus a canonical rendering of params.
func cacheKey(category string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(category))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		if data, err := json.Marshal(params[k]); err == nil {
			h.Write(data)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *mcpCache) get(key string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[key]
	return result, ok
}

func (c *mcpCache) put(key string, result map[string]any) {
	c.mu.Lock()
	c.results[key] = result
	c.mu.Unlock()
}
