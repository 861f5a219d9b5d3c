package wschat

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

// WsTransport is a Transport over a single WebSocket connection. A read
// goroutine pushes inbound messages to recv and a write goroutine owns every
// write to the socket.
type WsTransport struct {
	openConnectionParamsRepo OpenConnectionParamsRepo
	logger                   Logger
	dialer                   *websocket.Dialer
	writeTimeout             time.Duration
	conn                     *websocket.Conn
	connMu                   sync.Mutex
	closeChan                CloseChan
	closeOnce                sync.Once
	closeReason              error
	closeReasonMu            sync.Mutex
	recv                     chan<- Message // recv messages received over the wire
	send                     chan writeRequest
}

type writeRequest struct {
	msg  Message
	errC chan error
}

func NewWebsocketTransport(
	dialer *websocket.Dialer,
	openParamsRepo OpenConnectionParamsRepo,
	logger Logger,
	writeTimeout time.Duration,
	recvChan chan<- Message,
) *WsTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WsTransport{
		dialer:                   dialer,
		openConnectionParamsRepo: openParamsRepo,
		writeTimeout:             writeTimeout,
		recv:                     recvChan,
		send:                     make(chan writeRequest),
		closeChan:                make(CloseChan),
		logger:                   logger.WithField("net", "ws_transport"),
	}
}

func NewWebsocketTransportFactory(
	logger Logger,
	dialer *websocket.Dialer,
	openConnectionParamsRepo OpenConnectionParamsRepo,
	writeTimeout time.Duration,
) TransportFactory {
	return func(recvChan chan<- Message) Transport {
		return NewWebsocketTransport(
			dialer,
			openConnectionParamsRepo,
			logger,
			writeTimeout,
			recvChan,
		)
	}
}

// Open dials the broker and starts the read and write goroutines.
func (w *WsTransport) Open(ctx context.Context) error {
	p, err := w.openConnectionParamsRepo.Get(ctx)
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err = handleDialError(resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		return err
	}

	w.logger.Debugf("success opening connection to %s", p.URL.String())

	w.connMu.Lock()
	select {
	case <-w.closeChan:
		// Closed while dialing.
		w.connMu.Unlock()
		_ = conn.Close()
		return errors.Wrap(ErrConnectionClosed, "closed while dialing")
	default:
	}
	w.conn = conn
	w.connMu.Unlock()

	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(w.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	conn.SetCloseHandler(func(code int, text string) error {
		w.logger.Debugf("<= [CLOSE] %d %s", code, text)
		w.setCloseReason(errors.Wrapf(ErrConnectionClosed, "closed by peer: %d %s", code, text))
		return nil
	})

	go w.read()
	go w.write()

	return nil
}

// Write hands m to the write goroutine and waits for the socket to accept it.
func (w *WsTransport) Write(ctx context.Context, m Message) error {
	req := writeRequest{msg: m, errC: make(chan error, 1)}

	select {
	case w.send <- req:
	case <-w.closeChan:
		return w.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.errC:
		return err
	case <-w.closeChan:
		return w.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the WebSocket connection, sending a close frame first.
func (w *WsTransport) Close() {
	w.closeOnce.Do(w.close)
}

func (w *WsTransport) CloseChan() CloseChan {
	return w.closeChan
}

func (w *WsTransport) CloseErr() error {
	w.closeReasonMu.Lock()
	defer w.closeReasonMu.Unlock()
	return w.closeReason
}

func (w *WsTransport) read() {
	defer w.Close()

	for {
		messageType, bts, err := w.conn.ReadMessage()
		if err != nil {
			w.setCloseReason(errors.Wrap(ErrConnectionClosed, "error occurred on websocket read: "+err.Error()))
			return
		}

		var m Message
		switch messageType {
		case websocket.BinaryMessage:
			m = NewBinaryMessage(bts)
		default:
			m = NewTextMessage(bts)
		}

		select {
		case w.recv <- m:
		case <-w.closeChan:
			return
		}
	}
}

func (w *WsTransport) write() {
	defer w.Close()

	for {
		select {
		case <-w.closeChan:
			return
		case req := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))

			mt := websocket.TextMessage
			if req.msg.Type().Is(BinaryMessage) {
				mt = websocket.BinaryMessage
			}
			err := w.conn.WriteMessage(mt, req.msg.Data())
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					err = ErrConnectionClosed
				} else {
					err = errors.Wrap(ErrConnectionClosed, err.Error())
				}
				w.setCloseReason(err)
			}

			req.errC <- err
			if err != nil {
				return
			}
		}
	}
}

func (w *WsTransport) close() {
	w.setCloseReason(ErrTerminated)

	w.connMu.Lock()
	conn := w.conn
	close(w.closeChan)
	w.connMu.Unlock()

	if conn == nil {
		return
	}
	deadline := time.Now().Add(w.writeTimeout)
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	_ = conn.Close()
}

// setCloseReason keeps the first reason recorded.
func (w *WsTransport) setCloseReason(err error) {
	w.closeReasonMu.Lock()
	defer w.closeReasonMu.Unlock()
	if w.closeReason == nil {
		w.closeReason = err
	}
}

func (w *WsTransport) closedErr() error {
	if err := w.CloseErr(); err != nil && !errors.Is(err, ErrTerminated) {
		return err
	}
	return ErrConnectionClosed
}

func handleDialError(resp *http.Response, err error) error {
	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	// 2. Network errors
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}
