package nyxerr

import (
	"fmt"
	"testing"
)

func TestErrorStringIncludesKindAndCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(KindClientConnectionError, cause, "dial failed")

	want := "ClientConnectionError: dial failed: dial tcp: connection refused"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestContextPrependsWithoutLosingKindOrTags(t *testing.T) {
	t.Parallel()

	base := New(KindServerError, "conflict").WithTag(TagShouldRetry).WithCode(42)
	wrapped := base.Context("query failed")

	if wrapped.Kind() != KindServerError {
		t.Fatalf("Kind() = %v, want KindServerError", wrapped.Kind())
	}
	if wrapped.Code() != 42 {
		t.Fatalf("Code() = %d, want 42", wrapped.Code())
	}
	if !wrapped.HasTag(TagShouldRetry) {
		t.Fatal("expected SHOULD_RETRY tag to survive Context")
	}
	if wrapped.Error() != "ServerError: query failed: conflict" {
		t.Fatalf("Error() = %q", wrapped.Error())
	}
	// The original is untouched.
	if base.Error() != "ServerError: conflict" {
		t.Fatalf("base.Error() = %q, want untouched", base.Error())
	}
}

func TestShouldRetryWalksWrappedChain(t *testing.T) {
	t.Parallel()

	inner := New(KindServerError, "deadlock").WithTag(TagShouldRetry)
	outer := Wrap(KindProtocolError, inner, "request failed")

	if !ShouldRetry(outer) {
		t.Fatal("expected ShouldRetry to find the tag on the wrapped cause")
	}
	if ShouldReconnect(outer) {
		t.Fatal("did not expect SHOULD_RECONNECT on this chain")
	}
}

func TestIsMatchesByKindAcrossWrapChain(t *testing.T) {
	t.Parallel()

	inner := New(KindAuthenticationError, "bad password")
	outer := Wrap(KindProtocolError, inner, "handshake failed")

	if !Is(outer, KindAuthenticationError) {
		t.Fatal("expected Is to find KindAuthenticationError in the chain")
	}
	if Is(outer, KindNoDataError) {
		t.Fatal("did not expect KindNoDataError to match")
	}
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	t.Parallel()

	err := New(KindServerError, "x")
	if _, ok := err.Capabilities(); ok {
		t.Fatal("expected no capabilities set on a fresh error")
	}

	err.WithCapabilities(7)
	caps, ok := err.Capabilities()
	if !ok || caps != 7 {
		t.Fatalf("Capabilities() = (%d, %v), want (7, true)", caps, ok)
	}
}
