package conn

import (
	"strconv"
	"strings"
	"time"

	"github.com/nyxdb/nyxdb-go/config"
	"github.com/nyxdb/nyxdb-go/internal/scram"
	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// establish runs the client handshake, authentication, and parameter
// exchange as one continuous message loop through ReadyForCommand (spec
// §4.2 "Establishment"). The server may fold version negotiation,
// authentication, and parameter status into a single stream of messages
// in any order before the first ReadyForCommand; this loop handles all
// of them generically rather than assuming a fixed sequence.
func (c *Connection) establish() error {
	if c.cfg.Password == "" && c.cfg.SecretKey == "" {
		return nyxerr.New(nyxerr.KindPasswordRequired, "no password or secret key configured")
	}

	hsParams := map[string]string{"user": c.cfg.User}
	if c.cfg.Branch != "" {
		hsParams["branch"] = c.cfg.Branch
	} else {
		hsParams["database"] = c.cfg.Database
	}
	for k, v := range c.cfg.ServerSettings {
		hsParams[k] = v
	}

	hs := protocol.ClientHandshake{
		MajorVer: protocol.CurrentVersion.Major,
		MinorVer: protocol.CurrentVersion.Minor,
		Params:   hsParams,
	}
	if err := c.sendMessage(protocol.TypeClientHandshake, hs); err != nil {
		return err
	}

	c.version = protocol.CurrentVersion
	c.tier = c.version.Tier()

	var scramClient *scram.Client
	c.serverParams = make(map[string]string)

	for {
		msg, err := c.recvMessage()
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case protocol.ServerHandshake:
			returned := protocol.Version{Major: m.MajorVer, Minor: m.MinorVer}
			c.version = protocol.Min(protocol.CurrentVersion, returned)
			c.tier = c.version.Tier()

		case protocol.Authentication:
			switch m.Status {
			case protocol.AuthOK:
				// nothing further to do; wait for parameters/ReadyForCommand.
			case protocol.AuthSASL:
				if err := c.beginSASL(m, &scramClient); err != nil {
					return err
				}
			case protocol.AuthSASLContinue:
				if scramClient == nil {
					return nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "SASLContinue without a started exchange")
				}
				final, err := scramClient.HandleServerFirst(m.SASLData)
				if err != nil {
					return err
				}
				if err := c.sendMessage(protocol.TypeSASLResponse, protocol.SASLResponse{Data: final}); err != nil {
					return err
				}
			case protocol.AuthSASLFinal:
				if scramClient == nil {
					return nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "SASLFinal without a started exchange")
				}
				if err := scramClient.VerifyServerFinal(m.SASLData); err != nil {
					return err
				}
			}

		case protocol.ServerKeyData:
			c.serverKey = m.Data

		case protocol.ParameterStatus:
			c.serverParams[m.Name] = string(m.Value)
			if m.Name == "system_config" {
				c.applySystemConfig(m.Value)
			}

		case protocol.LogMessage:
			c.cfg.Log(config.LogEntry{Source: "conn", Message: m.Text})

		case protocol.ReadyForCommand:
			c.setTxState(m.TxState)
			return nil

		case protocol.UnknownMessage:
			// already logged by recvMessage; ignore during establishment.

		default:
			return nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "unexpected message during establishment")
		}
	}
}

func (c *Connection) beginSASL(m protocol.Authentication, out **scram.Client) error {
	method := ""
	for _, cand := range m.SASLMethods {
		if cand == "SCRAM-SHA-256" {
			method = cand
			break
		}
	}
	if method == "" {
		return nyxerr.New(nyxerr.KindAuthenticationError, "server offered no supported SASL method")
	}

	username := c.cfg.User
	password := c.cfg.Password
	if password == "" {
		password = c.cfg.SecretKey
	}
	cl := scram.New(username, password)
	*out = cl

	return c.sendMessage(protocol.TypeSASLInitialResponse, protocol.SASLInitialResponse{
		Method: method,
		Data:   cl.ClientFirstMessage(),
	})
}

// applySystemConfig best-effort extracts session_idle_timeout from an
// opaque system_config parameter payload and sets the background ping
// interval to 90% of it (spec §4.2 "Liveness"). The payload format is
// this repo's own simple "key=value;key=value" encoding rather than a
// nested type-descriptor value, since spec §6 leaves the exact
// system_config wire shape to the implementer.
func (c *Connection) applySystemConfig(raw []byte) {
	for _, kv := range strings.Split(string(raw), ";") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] != "session_idle_timeout" {
			continue
		}
		secs, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || secs <= 0 {
			continue
		}
		c.mu.Lock()
		c.pingInterval = time.Duration(secs * 0.9 * float64(time.Second))
		c.mu.Unlock()
	}
}
