package retry

import (
	"testing"
	"time"

	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/nyxerr"
)

func TestShouldRetryQueryRequiresRetrySafeCapabilities(t *testing.T) {
	t.Parallel()

	err := nyxerr.New(nyxerr.KindServerError, "conflict").WithTag(nyxerr.TagShouldRetry)
	rules := DefaultRules()

	cases := []struct {
		name string
		caps descriptor.QueryCapabilities
		want bool
	}{
		{"unparsed", descriptor.Unparsed(), true},
		{"parsed empty", descriptor.Parsed(0), true},
		{"parsed with modifications", descriptor.Parsed(descriptor.CapModifications), false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, ok := ShouldRetryQuery(rules, tc.caps, err, 0)
			if ok != tc.want {
				t.Errorf("ShouldRetryQuery(%+v) ok = %v, want %v", tc.caps, ok, tc.want)
			}
		})
	}
}

func TestShouldRetryTransactionExhaustsAttempts(t *testing.T) {
	t.Parallel()

	rules := Rules{}.WithRule(nyxerr.KindServerError, Rule{
		Attempts: 2,
		Backoff:  func(int) time.Duration { return time.Millisecond },
	})
	err := nyxerr.New(nyxerr.KindServerError, "conflict").WithTag(nyxerr.TagShouldRetry)

	if _, ok := ShouldRetryTransaction(rules, err, 0); !ok {
		t.Fatal("expected iteration 0 to be retryable")
	}
	if _, ok := ShouldRetryTransaction(rules, err, 1); !ok {
		t.Fatal("expected iteration 1 to be retryable")
	}
	if _, ok := ShouldRetryTransaction(rules, err, 2); ok {
		t.Fatal("expected iteration 2 to exhaust the rule's attempts")
	}
}

func TestShouldRetryTransactionRequiresTag(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	err := nyxerr.New(nyxerr.KindServerError, "not retryable")
	if _, ok := ShouldRetryTransaction(rules, err, 0); ok {
		t.Fatal("expected an untagged error not to be retried")
	}
}
