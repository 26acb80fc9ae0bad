package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nyxdb/nyxdb-go/config"
	"github.com/nyxdb/nyxdb-go/nyxerr"
)

func testConfig() config.Config {
	return config.Config{
		Host: "127.0.0.1", Port: 1, // nothing listens here
		User: "u", Password: "p", Database: "d",
		MaxConcurrency: 1,
		ConnectTimeout: 5 * time.Millisecond,
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"should-retry tag", nyxerr.New(nyxerr.KindServerError, "x").WithTag(nyxerr.TagShouldRetry), true},
		{"connection failed temporarily", nyxerr.New(nyxerr.KindClientConnectionFailedTemporarily, "x"), true},
		{"connection timeout", nyxerr.New(nyxerr.KindClientConnectionTimeout, "x"), true},
		{"auth error", nyxerr.New(nyxerr.KindAuthenticationError, "x"), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isTransient(tc.err); got != tc.want {
				t.Errorf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	p := New(testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// MaxConcurrency is 1 and there is no server to connect to, so the
	// semaphore acquire or the dial attempt must eventually respect ctx.
	_, err := p.Acquire(ctx)
	if err == nil {
		t.Fatal("expected an error dialing an unreachable host")
	}
}
