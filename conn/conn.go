// Package conn implements the connection state machine: handshake,
// authentication, parameter exchange, per-request sequencing, and
// liveness (spec §4.2).
package conn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nyxdb/nyxdb-go/config"
	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// Connection owns one byte stream and its negotiated session. Created by
// the pool; destroyed on EOS or after an unrecoverable error.
type Connection struct {
	netConn net.Conn
	fr      *protocol.FrameReader
	fw      *protocol.FrameWriter

	id      uuid.UUID
	version protocol.Version
	tier    protocol.Tier

	mu       sync.Mutex
	mode     Mode
	txState  protocol.TxState
	stateVal protocol.StateBlob

	serverParams map[string]string
	serverKey    [32]byte
	pingInterval time.Duration

	cfg   config.Config
	cache *descCache

	closeOnce sync.Once
}

// ID is a synthetic per-connection trace id, useful for correlating log
// entries across a connection's lifetime.
func (c *Connection) ID() uuid.UUID { return c.id }

// Version returns the negotiated protocol version.
func (c *Connection) Version() protocol.Version { return c.version }

// Tier returns the message-shape era implied by Version.
func (c *Connection) Tier() protocol.Tier { return c.tier }

// TxState returns the connection's last-known transaction state.
func (c *Connection) TxState() protocol.TxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txState
}

func (c *Connection) setTxState(s protocol.TxState) {
	c.mu.Lock()
	c.txState = s
	c.mu.Unlock()
}

// PingInterval returns the interval background liveness pings should run
// at, and whether pinging is enabled at all (spec §4.2 "Liveness").
func (c *Connection) PingInterval() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingInterval, c.pingInterval > 0
}

// Close tears the connection down. Terminate is best-effort; EOS after
// sending it is success (spec §4.2 "Teardown").
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.fw != nil {
			_ = c.fw.WriteFrame(protocol.TypeTerminate, nil)
			c.fw.Release()
		}
		err = c.netConn.Close()
	})
	return err
}

// Dial establishes a new authenticated, secured Connection per spec §4.2
// "Establishment": resolve target, open the stream, optionally upgrade
// to TLS, send the client handshake, authenticate, and drain parameter
// exchange through ReadyForCommand.
func Dial(ctx context.Context, cfg config.Config) (*Connection, error) {
	cfg = cfg.WithDefaults()

	raw, err := dialRaw(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		netConn: raw,
		id:      uuid.New(),
		cfg:     cfg,
		cache:   newDescCache(),
		mode:    normalMode(),
		txState: protocol.TxNotInTransaction,
	}
	c.fr = protocol.NewFrameReader(raw)
	c.fw = protocol.NewFrameWriter(raw)

	if err := c.establish(); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return c, nil
}

func dialRaw(ctx context.Context, cfg config.Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	if ka, ok := cfg.KeepAlive(); ok {
		dialer.KeepAlive = ka
	} else {
		dialer.KeepAlive = -1
	}

	network, addr := "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if cfg.IsUnixSocket() {
		network, addr = "unix", cfg.UnixPath
	}

	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, classifyDialError(err)
	}

	if cfg.TLS.Security == config.TLSSecurityDefault && len(cfg.TLS.CA) == 0 && cfg.TLS.ServerName == "" {
		return raw, nil // no TLS requested
	}

	tlsConn, err := upgradeTLS(ctx, raw, cfg)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return tlsConn, nil
}

func classifyDialError(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nyxerr.Wrap(nyxerr.KindClientConnectionTimeout, err, "dial timed out").WithTag(nyxerr.TagShouldRetry)
	}
	return nyxerr.Wrap(nyxerr.KindClientConnectionFailedTemporarily, err, "dial failed").WithTag(nyxerr.TagShouldRetry)
}

func upgradeTLS(ctx context.Context, raw net.Conn, cfg config.Config) (net.Conn, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(raw, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if cfg.TLS.InsecureDevMode {
			cfg.Log(config.LogEntry{Source: "conn", Message: "TLS handshake failed, continuing in cleartext (insecure dev mode)", Err: err})
			return raw, nil
		}
		return nil, nyxerr.Wrap(nyxerr.KindClientConnectionError, err, "TLS handshake failed")
	}
	return tlsConn, nil
}

func buildTLSConfig(cfg config.Config) (*tls.Config, error) {
	tc := &tls.Config{ServerName: cfg.TLS.ServerName, NextProtos: cfg.TLS.ALPN}
	if len(tc.NextProtos) == 0 {
		tc.NextProtos = []string{"nyxdb-v3", "nyxdb-legacy"}
	}

	switch cfg.TLS.Security {
	case config.TLSSecurityInsecure:
		tc.InsecureSkipVerify = true
	case config.TLSSecurityNoHostVerification:
		tc.InsecureSkipVerify = true
	}

	if len(cfg.TLS.CA) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.TLS.CA) {
			return nil, nyxerr.New(nyxerr.KindClientConnectionError, "pinned CA is not valid PEM")
		}
		tc.RootCAs = pool
	}
	if len(cfg.TLS.ClientCert) > 0 && len(cfg.TLS.ClientKey) > 0 {
		cert, err := tls.X509KeyPair(cfg.TLS.ClientCert, cfg.TLS.ClientKey)
		if err != nil {
			return nil, errors.Wrap(err, "parse client certificate")
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}
