// Package scram implements the client side of SCRAM-SHA-256 (RFC 5802,
// channel binding not required), the sole SASL mechanism the connection
// FSM drives (spec §4.2, §6).
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/nyxdb/nyxdb-go/nyxerr"
)

const defaultIterations = 4096

// Client drives one SCRAM-SHA-256 exchange: client-first, server-first,
// client-final, server-final.
type Client struct {
	username     string
	password     string
	clientNonce  string
	clientFirst  string
	serverFirst  string
	saltedPass   []byte
}

// New creates a Client for the given username/password.
func New(username, password string) *Client {
	return &Client{username: username, password: password, clientNonce: randNonce()}
}

func randNonce() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawStdEncoding.EncodeToString(b)
}

// ClientFirstMessage returns the "n,,n=...,r=..." message to send as the
// SASL initial response.
func (c *Client) ClientFirstMessage() []byte {
	c.clientFirst = fmt.Sprintf("n=%s,r=%s", escapeName(c.username), c.clientNonce)
	return []byte("n,," + c.clientFirst)
}

// HandleServerFirst parses the server-first message and returns the
// client-final message to send next.
func (c *Client) HandleServerFirst(data []byte) ([]byte, error) {
	c.serverFirst = string(data)
	fields, err := parseFields(c.serverFirst)
	if err != nil {
		return nil, err
	}

	serverNonce, ok := fields["r"]
	if !ok || !strings.HasPrefix(serverNonce, c.clientNonce) {
		return nil, nyxerr.New(nyxerr.KindAuthenticationError, "SCRAM server nonce does not extend client nonce")
	}
	saltB64, ok := fields["s"]
	if !ok {
		return nil, nyxerr.New(nyxerr.KindAuthenticationError, "SCRAM server-first missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, nyxerr.Wrap(nyxerr.KindAuthenticationError, err, "SCRAM salt is not valid base64")
	}
	iterStr, ok := fields["i"]
	if !ok {
		return nil, nyxerr.New(nyxerr.KindAuthenticationError, "SCRAM server-first missing iteration count")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		iterations = defaultIterations
	}

	c.saltedPass = pbkdf2.Key([]byte(c.password), salt, iterations, sha256.Size, sha256.New)

	channelBinding := base64.StdEncoding.EncodeToString([]byte("n,,"))
	clientFinalNoProof := "c=" + channelBinding + ",r=" + serverNonce

	clientKey := hmacSHA256(c.saltedPass, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	authMessage := c.clientFirst + "," + c.serverFirst + "," + clientFinalNoProof
	clientSignature := hmacSHA256(storedKey[:], []byte(authMessage))

	proof := make([]byte, len(clientKey))
	for i := range proof {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	final := clientFinalNoProof + ",p=" + base64.StdEncoding.EncodeToString(proof)
	return []byte(final), nil
}

// VerifyServerFinal checks the server's closing "v=..." signature.
func (c *Client) VerifyServerFinal(data []byte) error {
	fields, err := parseFields(string(data))
	if err != nil {
		return err
	}
	sigB64, ok := fields["v"]
	if !ok {
		return nyxerr.New(nyxerr.KindAuthenticationError, "SCRAM server-final missing signature")
	}
	gotSig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nyxerr.Wrap(nyxerr.KindAuthenticationError, err, "SCRAM server signature is not valid base64")
	}

	serverKey := hmacSHA256(c.saltedPass, []byte("Server Key"))
	// authMessage is recomputed the same way HandleServerFirst built it,
	// without the channel-binding/nonce fields changing since then.
	channelBinding := base64.StdEncoding.EncodeToString([]byte("n,,"))
	fieldsFirst, _ := parseFields(c.serverFirst)
	clientFinalNoProof := "c=" + channelBinding + ",r=" + fieldsFirst["r"]
	authMessage := c.clientFirst + "," + c.serverFirst + "," + clientFinalNoProof
	wantSig := hmacSHA256(serverKey, []byte(authMessage))

	if !hmac.Equal(gotSig, wantSig) {
		return nyxerr.New(nyxerr.KindAuthenticationError, "SCRAM server signature mismatch")
	}
	return nil
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func escapeName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

func parseFields(msg string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, nyxerr.New(nyxerr.KindAuthenticationError, "malformed SCRAM message field: "+part)
		}
		fields[kv[0]] = kv[1]
	}
	return fields, nil
}
