package wschat

import (
	"context"
)

type (
	CloseChan chan struct{}

	// Transport is one connection to the broker. Inbound messages are pushed to
	// the channel given to the TransportFactory; the channel is never closed by
	// the transport, CloseChan is the end-of-stream signal.
	Transport interface {
		// Open dials the broker. It returns once the connection is established or failed.
		Open(ctx context.Context) error
		// Write blocks until the message has been accepted by the socket, ctx is
		// done or the transport is closed.
		Write(ctx context.Context, m Message) error
		// CloseChan is closed once the transport is closed, by either side.
		CloseChan() CloseChan
		// CloseErr explains why the transport closed. ErrTerminated means we closed it.
		CloseErr() error
		// Close tears the connection down. It is safe to call more than once.
		Close()
	}

	TransportFactory func(recv chan<- Message) Transport
)
