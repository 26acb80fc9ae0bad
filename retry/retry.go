// Package retry implements the per-error-kind retry rules the query
// pipeline and transaction engine consult on a SHOULD_RETRY error
// (spec §4.5).
package retry

import (
	"math/rand"
	"time"

	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/nyxerr"
)

// Rule is one error kind's retry policy: how many attempts are allowed,
// and how long to sleep before attempt n (1-indexed).
type Rule struct {
	Attempts int
	Backoff  func(attempt int) time.Duration
}

func defaultBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		jitter := time.Duration(rand.Int63n(int64(base)))
		return base*time.Duration(attempt) + jitter
	}
}

// Rules maps a nyxerr.Kind to its retry policy. Kinds absent from the
// map are never retried automatically.
type Rules map[nyxerr.Kind]Rule

// DefaultRules mirrors common driver defaults: transient connection and
// transaction-conflict errors get a handful of quick attempts; nothing
// else is retried without the caller opting in via WithRule.
func DefaultRules() Rules {
	return Rules{
		nyxerr.KindClientConnectionFailedTemporarily: {Attempts: 3, Backoff: defaultBackoff(100 * time.Millisecond)},
		nyxerr.KindClientConnectionTimeout:            {Attempts: 3, Backoff: defaultBackoff(100 * time.Millisecond)},
		nyxerr.KindServerError:                        {Attempts: 3, Backoff: defaultBackoff(50 * time.Millisecond)},
	}
}

// WithRule returns a copy of r with kind's policy replaced.
func (r Rules) WithRule(kind nyxerr.Kind, rule Rule) Rules {
	cp := make(Rules, len(r)+1)
	for k, v := range r {
		cp[k] = v
	}
	cp[kind] = rule
	return cp
}

// ShouldRetryQuery reports whether a per-query retry is permitted: the
// query must be retry-safe (spec §4.5: Parsed(empty) or Unparsed
// capabilities) and err must carry SHOULD_RETRY with a rule that still
// has attempts left.
func ShouldRetryQuery(rules Rules, caps descriptor.QueryCapabilities, err error, iteration int) (time.Duration, bool) {
	if !caps.RetrySafe() {
		return 0, false
	}
	return ShouldRetryTransaction(rules, err, iteration)
}

// ShouldRetryTransaction reports whether a failed transaction attempt
// may be retried: err must carry SHOULD_RETRY and its kind's rule must
// still have attempts left for this iteration.
func ShouldRetryTransaction(rules Rules, err error, iteration int) (time.Duration, bool) {
	if !nyxerr.ShouldRetry(err) {
		return 0, false
	}
	kind := kindOf(err)
	rule, ok := rules[kind]
	if !ok || iteration >= rule.Attempts {
		return 0, false
	}
	return rule.Backoff(iteration + 1), true
}

func kindOf(err error) nyxerr.Kind {
	for k := nyxerr.KindUnknown; k <= nyxerr.KindServerError; k++ {
		if nyxerr.Is(err, k) {
			return k
		}
	}
	return nyxerr.KindUnknown
}
