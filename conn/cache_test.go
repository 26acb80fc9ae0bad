package conn

import (
	"testing"

	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/protocol"
)

func TestDescCachePutGet(t *testing.T) {
	t.Parallel()

	c := newDescCache()
	key := cacheKey("select 1", protocol.IOFormatBinary, descriptor.CardinalityOne)

	if _, ok := c.get(key); ok {
		t.Fatal("expected a miss on an empty cache")
	}

	entry := descCacheEntry{InputTypeID: [16]byte{1}, OutputTypeID: [16]byte{2}}
	c.put(key, entry)

	got, ok := c.get(key)
	if !ok {
		t.Fatal("expected a hit after put")
	}
	if got.InputTypeID != entry.InputTypeID || got.OutputTypeID != entry.OutputTypeID {
		t.Fatalf("got = %+v, want %+v", got, entry)
	}
}

func TestCacheKeyDiscriminatesOnTextFormatAndCardinality(t *testing.T) {
	t.Parallel()

	base := cacheKey("select 1", protocol.IOFormatBinary, descriptor.CardinalityOne)

	cases := []uint64{
		cacheKey("select 2", protocol.IOFormatBinary, descriptor.CardinalityOne),
		cacheKey("select 1", protocol.IOFormatJSON, descriptor.CardinalityOne),
		cacheKey("select 1", protocol.IOFormatBinary, descriptor.CardinalityMany),
	}
	for i, k := range cases {
		if k == base {
			t.Fatalf("case %d: cacheKey collided with base, want distinct keys", i)
		}
	}

	again := cacheKey("select 1", protocol.IOFormatBinary, descriptor.CardinalityOne)
	if again != base {
		t.Fatal("cacheKey is not deterministic for identical inputs")
	}
}
