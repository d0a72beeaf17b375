package transport

import (
	"errors"
	"net"

	"github.com/lordbasex/kvcore/client"
)

// Accept runs the accept loop for one listener, spawning Serve on its own
// goroutine per connection, until the listener is closed — the expected
// shutdown signal (shutdown.Coordinator's finalize step closes every
// registered listener), so net.ErrClosed ends the loop quietly rather than
// propagating as a failure.
func Accept(ln net.Listener, reactor *Reactor, registry *client.Registry) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go Serve(conn, reactor, registry)
	}
}
