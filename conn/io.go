package conn

import (
	"fmt"

	"github.com/nyxdb/nyxdb-go/config"
	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// encodable is satisfied by every client message that needs no tier
// awareness to encode itself.
type encodable interface {
	Encode() ([]byte, error)
}

func (c *Connection) sendMessage(typ byte, m encodable) error {
	body, err := m.Encode()
	if err != nil {
		return err
	}
	return c.fw.WriteFrame(typ, body)
}

func (c *Connection) sendFrame(typ byte, body []byte) error {
	return c.fw.WriteFrame(typ, body)
}

// recvMessage reads and decodes the next frame, surfacing ErrorResponse
// as a *nyxerr.Error instead of a bare ServerMessage value.
func (c *Connection) recvMessage() (protocol.ServerMessage, error) {
	f, err := c.fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	msg, err := protocol.Decode(f)
	if err != nil {
		return nil, err
	}
	if er, ok := msg.(protocol.ErrorResponse); ok {
		return nil, errorFromServer(er)
	}
	if unk, ok := msg.(protocol.UnknownMessage); ok {
		c.cfg.Log(config.LogEntry{Source: "conn", Message: fmt.Sprintf("received unrecognized message type %q", unk.Code)})
	}
	return msg, nil
}

// Error code bit layout (this repo's own choice, spec §6): the low byte
// is a taxonomy index, bit 24 is SHOULD_RETRY, bit 25 is SHOULD_RECONNECT.
const (
	codeTagShouldRetryBit     = 1 << 24
	codeTagShouldReconnectBit = 1 << 25
)

func errorFromServer(e protocol.ErrorResponse) *nyxerr.Error {
	err := nyxerr.New(nyxerr.KindServerError, e.Message).WithCode(e.Code)
	if e.Code&codeTagShouldRetryBit != 0 {
		err = err.WithTag(nyxerr.TagShouldRetry)
	}
	if e.Code&codeTagShouldReconnectBit != 0 {
		err = err.WithTag(nyxerr.TagShouldReconnect)
	}
	return err
}
