// Package config holds the resolved connection configuration the core
// consumes (spec §6). Nothing in this package parses a DSN or reads the
// environment — that is an external collaborator's job; the core only
// ever sees an already-resolved Config value.
package config

import "time"

// TLSSecurity selects how strictly the server's certificate is checked.
type TLSSecurity int

const (
	// TLSSecurityDefault resolves to Strict when a CA is pinned, and to
	// the platform's default trust policy otherwise. With no CA and no
	// ServerName set, Default means the connection is not upgraded to TLS.
	TLSSecurityDefault TLSSecurity = iota
	TLSSecurityStrict
	TLSSecurityNoHostVerification
	TLSSecurityInsecure
)

// KeepAliveMode selects the connection's TCP keepalive behavior.
type KeepAliveMode int

const (
	KeepAliveDisabled KeepAliveMode = iota
	KeepAliveDefault                // 60s
	KeepAliveExplicit
)

// TLS carries the parameters spec §6 names for securing the transport.
type TLS struct {
	Security   TLSSecurity
	CA         []byte // pinned CA certificate(s), PEM
	ServerName string // SNI override
	ALPN       []string
	KeyLogFile string
	ClientCert []byte // PEM, optional
	ClientKey  []byte // PEM, optional

	// InsecureDevMode allows falling back to cleartext once, with a
	// warning, when TLS is requested but the peer does not speak TLS
	// (spec §4.2 "Establishment").
	InsecureDevMode bool
}

// LogEntry is one non-fatal event the connection FSM or pool reports.
// Library code never logs directly; the caller decides what to do with
// it (the "logged but not fatal" treatment of an unrecognized message).
type LogEntry struct {
	Source  string // e.g. "conn", "pool"
	Message string
	Err     error
}

// LogFunc receives LogEntry values. The zero value is a no-op.
type LogFunc func(LogEntry)

// Config is the fully-resolved connection configuration (spec §6).
type Config struct {
	Host     string
	Port     int
	UnixPath string

	User      string
	Password  string
	SecretKey string // mutually exclusive with Password

	Database string
	Branch   string // mutually exclusive with Database when they disagree

	TLS TLS

	WaitUntilAvailable time.Duration // default 30s
	ConnectTimeout     time.Duration // default 10s

	TCPKeepAliveMode     KeepAliveMode
	TCPKeepAliveExplicit time.Duration

	MaxConcurrency int // default 10

	ServerSettings map[string]string

	Log LogFunc
}

// WithDefaults returns a copy of c with zero-valued fields set to spec
// §6's documented defaults.
func (c Config) WithDefaults() Config {
	if c.WaitUntilAvailable == 0 {
		c.WaitUntilAvailable = 30 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 10
	}
	if c.Log == nil {
		c.Log = func(LogEntry) {}
	}
	return c
}

// IsUnixSocket reports whether the config targets a Unix domain socket.
func (c Config) IsUnixSocket() bool { return c.UnixPath != "" }

// KeepAlive resolves the configured keepalive mode to a concrete duration,
// or false if keepalive is disabled.
func (c Config) KeepAlive() (time.Duration, bool) {
	switch c.TCPKeepAliveMode {
	case KeepAliveDisabled:
		return 0, false
	case KeepAliveExplicit:
		return c.TCPKeepAliveExplicit, true
	default:
		return 60 * time.Second, true
	}
}
