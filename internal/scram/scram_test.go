package scram

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"golang.org/x/crypto/pbkdf2"

	"github.com/nyxdb/nyxdb-go/nyxerr"
)

// fakeServer plays the server side of one SCRAM-SHA-256 exchange well
// enough to drive Client through a full, successful round trip.
type fakeServer struct {
	salt       []byte
	iterations int
	nonce      string
	saltedPass []byte
}

func newFakeServer(password string, clientNonce string) *fakeServer {
	s := &fakeServer{
		salt:       []byte("0123456789abcdef"),
		iterations: 4096,
		nonce:      clientNonce + "serverpart",
	}
	s.saltedPass = pbkdf2.Key([]byte(password), s.salt, s.iterations, sha256.Size, sha256.New)
	return s
}

func (s *fakeServer) firstMessage() []byte {
	return []byte("r=" + s.nonce + ",s=" + base64.StdEncoding.EncodeToString(s.salt) + ",i=4096")
}

func (s *fakeServer) finalMessage(clientFirst, serverFirst string) []byte {
	clientFinalNoProof := "c=" + base64.StdEncoding.EncodeToString([]byte("n,,")) + ",r=" + s.nonce
	authMessage := clientFirst + "," + serverFirst + "," + clientFinalNoProof
	serverKey := hmacSHA256(s.saltedPass, []byte("Server Key"))
	sig := hmacSHA256(serverKey, []byte(authMessage))
	return []byte("v=" + base64.StdEncoding.EncodeToString(sig))
}

func TestFullExchangeSucceeds(t *testing.T) {
	t.Parallel()

	c := New("alice", "s3cret")
	first := c.ClientFirstMessage()
	if !strings.HasPrefix(string(first), "n,,n=alice,r=") {
		t.Fatalf("client first = %q, want n,,n=alice,r=...", first)
	}

	srv := newFakeServer("s3cret", c.clientNonce)
	final, err := c.HandleServerFirst(srv.firstMessage())
	if err != nil {
		t.Fatalf("HandleServerFirst: %v", err)
	}
	if !strings.Contains(string(final), ",p=") {
		t.Fatalf("client final = %q, want a p= proof field", final)
	}

	if err := c.VerifyServerFinal(srv.finalMessage(c.clientFirst, c.serverFirst)); err != nil {
		t.Fatalf("VerifyServerFinal: %v", err)
	}
}

func TestHandleServerFirstRejectsNonExtendingNonce(t *testing.T) {
	t.Parallel()

	c := New("alice", "s3cret")
	c.ClientFirstMessage()

	bogus := []byte("r=somethingelse,s=" + base64.StdEncoding.EncodeToString([]byte("salt")) + ",i=4096")
	_, err := c.HandleServerFirst(bogus)
	if !nyxerr.Is(err, nyxerr.KindAuthenticationError) {
		t.Fatalf("err = %v, want KindAuthenticationError", err)
	}
}

func TestHandleServerFirstRejectsMalformedField(t *testing.T) {
	t.Parallel()

	c := New("alice", "s3cret")
	c.ClientFirstMessage()

	_, err := c.HandleServerFirst([]byte("not-a-field-list"))
	if !nyxerr.Is(err, nyxerr.KindAuthenticationError) {
		t.Fatalf("err = %v, want KindAuthenticationError", err)
	}
}

func TestVerifyServerFinalRejectsBadSignature(t *testing.T) {
	t.Parallel()

	c := New("alice", "s3cret")
	c.ClientFirstMessage()
	srv := newFakeServer("s3cret", c.clientNonce)
	if _, err := c.HandleServerFirst(srv.firstMessage()); err != nil {
		t.Fatalf("HandleServerFirst: %v", err)
	}

	wrongSig := base64.StdEncoding.EncodeToString([]byte("not-the-right-signature"))
	err := c.VerifyServerFinal([]byte("v=" + wrongSig))
	if !nyxerr.Is(err, nyxerr.KindAuthenticationError) {
		t.Fatalf("err = %v, want KindAuthenticationError", err)
	}
}

func TestEscapeNameEscapesReservedChars(t *testing.T) {
	t.Parallel()

	got := escapeName("a=b,c")
	want := "a=3Db=2Cc"
	if got != want {
		t.Fatalf("escapeName = %q, want %q", got, want)
	}
}
