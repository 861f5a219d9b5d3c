package wschat

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

// RetryDelay returns how long to wait before the given retry attempt (1-based).
type RetryDelay func(attempt int) time.Duration

// FixedDelay waits d before every attempt, however many there were.
func FixedDelay(d time.Duration) RetryDelay {
	return func(int) time.Duration { return d }
}

type (
	retryTimer interface {
		Stop() bool
	}

	afterFunc func(d time.Duration, f func()) retryTimer
)

func stdAfterFunc(d time.Duration, f func()) retryTimer {
	return time.AfterFunc(d, f)
}

// Client is a supervised chat session: it wraps a Session and, whenever the
// session fails, joins again with the same identity after a fixed delay,
// forever, until Leave is called.
type Client struct {
	session    *Session
	logger     Logger
	retryDelay RetryDelay
	afterFunc  afterFunc
	emitter    *EventEmitterCallback[EventType, StateChange]

	mu       sync.Mutex
	identity string
	active   bool
	attempts int
	timer    retryTimer
	inflight *inflightRetry
}

type inflightRetry struct {
	cancel context.CancelFunc
}

type Option func(*clientOptions)

type clientOptions struct {
	logger     Logger
	factory    TransportFactory
	dialer     *websocket.Dialer
	params     OpenConnectionParamsGetter
	retryDelay RetryDelay
	afterFunc  afterFunc
}

func WithLogger(l Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithTransportFactory replaces the WebSocket transport, mostly for tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(o *clientOptions) { o.factory = f }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithOpenConnectionParams resolves the broker URL and headers on every dial
// instead of using Config.BrokerURL.
func WithOpenConnectionParams(g OpenConnectionParamsGetter) Option {
	return func(o *clientOptions) { o.params = g }
}

func WithRetryDelay(d RetryDelay) Option {
	return func(o *clientOptions) { o.retryDelay = d }
}

func withAfterFunc(f afterFunc) Option {
	return func(o *clientOptions) { o.afterFunc = f }
}

func NewClient(config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := clientOptions{
		logger:     NopLogger(),
		retryDelay: FixedDelay(config.ReconnectDelay),
		afterFunc:  stdAfterFunc,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		if o.params == nil {
			o.params = StaticOpenConnectionParams(config.BrokerURL, nil)
		}
		o.factory = NewWebsocketTransportFactory(
			o.logger,
			o.dialer,
			NewOpenConnectionParamsRepo(o.logger, o.params),
			config.WriteTimeout,
		)
	}

	c := &Client{
		session:    NewSession(config, o.factory, o.logger),
		logger:     o.logger.WithField("type", "supervisor"),
		retryDelay: o.retryDelay,
		afterFunc:  o.afterFunc,
		emitter:    NewEventEmitter[EventType, StateChange](),
	}
	c.session.On(EventStateChange, c.onStateChange)
	return c, nil
}

// On registers fn for state changes of the underlying session and for
// EventReconnect, fired before every retry.
func (c *Client) On(event EventType, fn func(StateChange)) {
	c.emitter.On(event, fn)
}

// Join starts a supervised session as identity and returns the outcome of
// the first attempt. When it fails on the transport, retries are already
// scheduled; call Leave to stop them. Cancelling ctx before the first attempt
// completes abandons the join without retries.
func (c *Client) Join(ctx context.Context, identity string) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return errors.Wrapf(ErrAlreadyJoined, "already joined as %q", c.identity)
	}
	c.active = true
	c.identity = identity
	c.attempts = 0
	c.mu.Unlock()

	err := c.session.Join(ctx, identity)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// The caller gave up on the first attempt, so nothing is retried.
		c.stopRetries()
		if leaveErr := c.session.Leave(context.Background()); leaveErr != nil {
			c.logger.Warnf("cannot reset abandoned join as %q: %s", identity, leaveErr)
		}
	case !errors.Is(err, ErrTransport):
		// Nothing to retry: the session never left Disconnected.
		c.mu.Lock()
		if c.session.State() != StateFailed {
			c.active = false
		}
		c.mu.Unlock()
	}
	return err
}

// Send publishes content to the topic. It fails with ErrNotJoined while
// the session is not joined, including while a retry is pending.
func (c *Client) Send(ctx context.Context, content string) error {
	return c.session.Send(ctx, content)
}

// Leave stops supervision, cancels a pending or in-flight retry and leaves
// the session.
func (c *Client) Leave(ctx context.Context) error {
	c.stopRetries()
	return c.session.Leave(ctx)
}

func (c *Client) stopRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.inflight != nil {
		c.inflight.cancel()
		c.inflight = nil
	}
}

func (c *Client) State() SessionState { return c.session.State() }

// Connected reports whether the session is joined.
func (c *Client) Connected() bool { return c.State() == StateJoined }

func (c *Client) Identity() string { return c.session.Identity() }

// Events returns the sink of the current session.
func (c *Client) Events() *EventSink { return c.session.Events() }

func (c *Client) Snapshot() []ChatEvent { return c.Events().Snapshot() }

// Subscribe streams the events of the current session, see EventSink.Subscribe.
func (c *Client) Subscribe(ctx context.Context) <-chan ChatEvent {
	return c.Events().Subscribe(ctx)
}

func (c *Client) onStateChange(change StateChange) {
	c.emitter.Emit(EventStateChange, change)
	if t := change.eventType(); t != "" {
		c.emitter.Emit(t, change)
	}

	switch change.To {
	case StateJoined:
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
	case StateFailed:
		c.scheduleRetry(change.Err)
	}
}

func (c *Client) scheduleRetry(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || c.timer != nil {
		return
	}
	c.attempts++
	delay := c.retryDelay(c.attempts)
	c.logger.Infof("retry #%d as %q in %s due to %s", c.attempts, c.identity, delay, cause)
	c.timer = c.afterFunc(delay, c.retry)
}

func (c *Client) retry() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	identity := c.identity
	attempts := c.attempts
	ctx, cancel := context.WithCancel(context.Background())
	current := &inflightRetry{cancel: cancel}
	c.inflight = current
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.inflight == current {
			c.inflight = nil
		}
		c.mu.Unlock()
	}()

	c.emitter.Emit(EventReconnect, StateChange{From: StateFailed, To: StateConnecting})
	if err := c.session.Join(ctx, identity); err != nil {
		c.logger.Warnf("retry #%d as %q failed: %s", attempts, identity, err)
		return
	}
	c.logger.Infof("rejoined as %q after %d retries", identity, attempts)
}
