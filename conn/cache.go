package conn

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// descCacheEntry is what a prior Parse/Describe told us about one query
// text + output shape combination. Execute must reuse these exact ids
// (spec §3 invariant) or the server rejects it and the client re-parses.
type descCacheEntry struct {
	InputTypeID   [16]byte
	OutputTypeID  [16]byte
	InputGraph    *descriptor.Graph
	OutputGraph   *descriptor.Graph
	Capabilities  descriptor.Capabilities
	Cardinality   descriptor.Cardinality
}

// descCache maps a hash of (query text, io format, cardinality) to the
// most recent parse/describe result, keyed with xxhash the way packetd
// keys its hot-path lookup maps.
type descCache struct {
	mu      sync.Mutex
	entries map[uint64]descCacheEntry
}

func newDescCache() *descCache {
	return &descCache{entries: make(map[uint64]descCacheEntry)}
}

func cacheKey(text string, ioFormat protocol.IOFormat, card descriptor.Cardinality) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(text)
	_, _ = h.Write([]byte{byte(ioFormat), byte(card)})
	return h.Sum64()
}

func (c *descCache) get(key uint64) (descCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *descCache) put(key uint64, e descCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
}
