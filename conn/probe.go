package conn

import (
	"net"
	"time"
)

// Probe performs the non-blocking liveness check spec §4.4 "Acquire"
// requires before handing a cached connection out of the pool: any
// bytes already waiting (or arriving within a tiny grace window) mean
// the server tore the session down, usually via its idle timeout.
func (c *Connection) Probe() bool {
	if c.fr.Buffered() > 0 {
		return false
	}
	_ = c.netConn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := c.fr.Peek(1)
	_ = c.netConn.SetReadDeadline(time.Time{})

	if err == nil {
		return false // unexpected data waiting
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true // nothing waiting, connection looks alive
	}
	return false // EOF or hard error
}
