package stream

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"screeps-relay/internal/logger"
	"screeps-relay/internal/metrics"
)

// State is the coarse connection state of one client instance.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateClosed     State = "closed"
)

// Reserved topics on which the client synthesizes its own events. They are
// delivered through the same dispatch path as server traffic so consumers
// can observe connection health without a separate API.
const (
	TopicState = "__state__"
	TopicError = "__error__"
)

const (
	defaultReconnectBaseDelay  = time.Second
	defaultReconnectMaxDelay   = 20 * time.Second
	defaultAuthRefreshInterval = 10 * time.Minute
)

// Config configures one streaming client instance.
type Config struct {
	// Endpoint is the server base address. Required; validated at
	// construction time.
	Endpoint string

	// Credential, when set, is sent as the auth command on every (re)connect
	// and refreshed periodically while connected. The server silently
	// expires idle credentials.
	Credential string

	// DisableReconnect turns off automatic reconnection after a dropped
	// connection.
	DisableReconnect bool

	// ReconnectBaseDelay and ReconnectMaxDelay bound the exponential
	// backoff. Defaults: 1s and 20s.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// AuthRefreshInterval is the fixed re-authentication period. Default 10m.
	AuthRefreshInterval time.Duration

	// Logger receives structured client logs. Optional.
	Logger *logger.Logger

	// Metrics receives client metrics. Optional.
	Metrics *metrics.Metrics

	// Dialer opens physical connections. Defaults to WebsocketDialer.
	Dialer Dialer
}

// Client multiplexes many logical topics over one physical connection to the
// game server. All mutable state is owned by a single actor goroutine fed
// through a mailbox; public methods post commands and return immediately.
type Client struct {
	cfg      Config
	id       string
	endpoint string
	log      *logger.Logger
	metrics  *metrics.Metrics
	dialer   Dialer
	clk      clock

	mbox  *mailbox
	done  chan struct{}
	state atomic.Value // State

	// Actor-owned state. Touched only from the run loop.
	st          State
	conn        Conn
	gen         int
	det         detector
	reg         *registry
	disp        *dispatcher
	attempts    int
	reconnect   timerHandle
	authRefresh timerHandle
	manualClose bool
	handshaking bool
}

// New validates the configuration and starts the client's event loop. The
// connection is not opened until Connect is called. An unusable endpoint is
// the one error class that surfaces synchronously; everything later is
// recovered through the reconnect machinery and reported as events.
func New(cfg Config) (*Client, error) {
	return newClient(cfg, realClock{})
}

func newClient(cfg Config, clk clock) (*Client, error) {
	endpoint, err := ResolveEndpoint(cfg.Endpoint, cfg.Credential)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if cfg.AuthRefreshInterval <= 0 {
		cfg.AuthRefreshInterval = defaultAuthRefreshInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer
	}

	c := &Client{
		cfg:      cfg,
		id:       uuid.NewString(),
		endpoint: endpoint,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		dialer:   cfg.Dialer,
		clk:      clk,
		mbox:     newMailbox(),
		done:     make(chan struct{}),
		st:       StateIdle,
		reg:      newRegistry(),
		disp:     newDispatcher(),
	}
	c.state.Store(StateIdle)
	go c.run()
	return c, nil
}

func (c *Client) run() {
	for {
		select {
		case <-c.mbox.wake:
			for _, fn := range c.mbox.drain() {
				fn()
				select {
				case <-c.done:
					return
				default:
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) post(fn func()) {
	select {
	case <-c.done:
	default:
		c.mbox.put(fn)
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.state.Load().(State)
}

// Connect opens the connection unless one is already open or opening. It
// clears the effect of a previous Disconnect.
func (c *Client) Connect() {
	c.post(c.startConnect)
}

// Disconnect closes the connection and stops all reconnection and
// re-authentication timers. Idempotent; Connect may be called again later.
func (c *Client) Disconnect() {
	c.post(c.disconnectNow)
}

// Close disconnects and permanently stops the client's event loop.
func (c *Client) Close() {
	c.post(func() {
		c.disconnectNow()
		close(c.done)
	})
}

// Subscribe adds one reference to topic, subscribing it on the wire on the
// 0->1 transition, and optionally registers a handler for its events. The
// returned function releases both; it is safe to call more than once.
// An empty topic is a no-op.
func (c *Client) Subscribe(topic string, fn Handler) (cancel func()) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return func() {}
	}
	var id uuid.UUID
	hasHandler := fn != nil
	c.post(func() {
		if hasHandler {
			id = c.disp.add(topic, fn)
		}
		c.retainTopic(topic)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			c.post(func() {
				if hasHandler {
					c.disp.remove(topic, id)
				}
				c.releaseTopic(topic)
			})
		})
	}
}

// Unsubscribe releases one reference to topic. At zero references the topic
// is unsubscribed on the wire. The count never goes negative.
func (c *Client) Unsubscribe(topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	c.post(func() { c.releaseTopic(topic) })
}

// On registers a handler without holding a subscription reference, for
// passive observation of a topic (including the reserved state and error
// topics, and the wildcard topic "*"). The returned function removes the
// handler.
func (c *Client) On(topic string, fn Handler) (cancel func()) {
	topic = strings.TrimSpace(topic)
	if topic == "" || fn == nil {
		return func() {}
	}
	var id uuid.UUID
	c.post(func() {
		id = c.disp.add(topic, fn)
		if topic == TopicState {
			// Snapshot delivery to the fresh registration only. Wildcard
			// consumers see real transitions, not this bootstrap echo.
			safeInvoke(fn, c.stateEvent())
		}
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			c.post(func() { c.disp.remove(topic, id) })
		})
	}
}

// Send writes a verbatim command in the currently active framing. It is a
// no-op while disconnected.
func (c *Client) Send(command string) {
	c.post(func() { c.write(c.det.EncodeRaw(command)) })
}

// --- actor internals ---

func (c *Client) startConnect() {
	c.manualClose = false
	if c.conn != nil || c.st == StateConnecting {
		return
	}
	c.stopReconnectTimer()
	c.setState(StateConnecting)
	c.gen++
	go c.dial(c.gen)
}

func (c *Client) dial(gen int) {
	conn, err := c.dialer(c.endpoint,
		func(frame string) { c.post(func() { c.handleFrame(gen, frame) }) },
		func(cause error) { c.post(func() { c.handleConnClosed(gen, cause) }) },
	)
	c.post(func() { c.handleDialResult(gen, conn, err) })
}

func (c *Client) handleDialResult(gen int, conn Conn, err error) {
	if gen != c.gen || c.manualClose {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.emitError(err)
		c.setState(StateClosed)
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.attempts = 0
	c.setState(StateConnected)
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetConnectionStatus(true)
	})
	c.log.Info("connected", "client", c.id, "endpoint", c.cfg.Endpoint)

	if c.det.Envelope() {
		c.write(sessionOpenCommand)
	}
	if c.cfg.Credential != "" {
		c.sendCommand("auth", c.cfg.Credential)
	}
	c.replaySubscriptions()
	c.startAuthTimer()
}

func (c *Client) handleFrame(gen int, raw string) {
	if gen != c.gen {
		return
	}
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncFramesTotal("received")
	})

	body, switched := c.det.Observe(raw)
	if switched {
		c.log.Info("envelope framing detected", "client", c.id)
		c.beginFramingHandshake()
	}
	if body == "" {
		return
	}

	ev := ParseFrame(body)
	if ev == nil {
		c.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncFramesTotal("dropped")
		})
		return
	}
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncFramesTotal("decoded")
	})

	if ev.Channel == "auth" {
		c.handleAuthResult(*ev)
	}
	c.dispatch(*ev, true)
}

// beginFramingHandshake re-establishes the session in the envelope encoding
// after the detector flips: session open, auth, then every held
// subscription. State registered by callers is never dropped by the switch.
func (c *Client) beginFramingHandshake() {
	c.handshaking = true
	c.write(sessionOpenCommand)
	if c.cfg.Credential != "" {
		c.write(encodeEnvelopeCommand("auth", c.cfg.Credential))
	}
	for _, topic := range c.reg.topics() {
		c.write(encodeEnvelopeCommand("subscribe", topic))
	}
}

// handleAuthResult reacts to the normalized auth acknowledgment. Some server
// deployments silently drop subscribe commands issued before auth completes,
// so a successful acknowledgment replays every held subscription.
func (c *Client) handleAuthResult(ev Event) {
	status := ""
	if payload, ok := ev.Payload.(map[string]any); ok {
		status, _ = payload["status"].(string)
	}
	switch status {
	case "ok":
		c.handshaking = false
		c.replaySubscriptions()
	case "":
	default:
		c.log.Warn("authentication rejected", "client", c.id, "status", status)
	}
}

func (c *Client) handleConnClosed(gen int, cause error) {
	if gen != c.gen {
		return
	}
	if cause != nil {
		c.emitError(cause)
	}
	c.teardown()
	c.scheduleReconnect()
}

func (c *Client) disconnectNow() {
	c.manualClose = true
	c.stopReconnectTimer()
	c.teardown()
}

func (c *Client) teardown() {
	c.stopAuthTimer()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.gen++ // frames from the old connection are never delivered again
	c.handshaking = false
	c.setState(StateClosed)
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetConnectionStatus(false)
	})
}

func (c *Client) scheduleReconnect() {
	if c.manualClose || c.cfg.DisableReconnect || c.reconnect != nil {
		return
	}
	delay := c.backoffDelay()
	c.attempts++
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncReconnects()
	})
	c.log.Info("scheduling reconnect",
		"client", c.id,
		"attempt", c.attempts,
		"delay", delay.String())
	c.reconnect = c.clk.AfterFunc(delay, func() {
		c.post(func() {
			c.reconnect = nil
			c.startConnect()
		})
	})
}

func (c *Client) backoffDelay() time.Duration {
	delay := c.cfg.ReconnectBaseDelay
	for i := 0; i < c.attempts; i++ {
		delay *= 2
		if delay >= c.cfg.ReconnectMaxDelay {
			return c.cfg.ReconnectMaxDelay
		}
	}
	if delay > c.cfg.ReconnectMaxDelay {
		return c.cfg.ReconnectMaxDelay
	}
	return delay
}

func (c *Client) startAuthTimer() {
	if c.cfg.Credential == "" {
		return
	}
	c.stopAuthTimer()
	c.authRefresh = c.clk.AfterFunc(c.cfg.AuthRefreshInterval, func() {
		c.post(c.refreshAuth)
	})
}

func (c *Client) refreshAuth() {
	c.authRefresh = nil
	if c.conn == nil || c.manualClose {
		return
	}
	c.sendCommand("auth", c.cfg.Credential)
	c.startAuthTimer()
}

func (c *Client) stopAuthTimer() {
	if c.authRefresh != nil {
		c.authRefresh.Stop()
		c.authRefresh = nil
	}
}

func (c *Client) stopReconnectTimer() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) retainTopic(topic string) {
	if c.reg.retain(topic) {
		c.sendCommand("subscribe", topic)
	}
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetSubscriptionsActive(float64(len(c.reg.topics())))
	})
}

func (c *Client) releaseTopic(topic string) {
	if c.reg.release(topic) {
		c.sendCommand("unsubscribe", topic)
	}
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetSubscriptionsActive(float64(len(c.reg.topics())))
	})
}

// replaySubscriptions re-issues a subscribe for every held topic. The
// registry is the single source of truth; this runs on every (re)connect
// and again after a successful auth acknowledgment.
func (c *Client) replaySubscriptions() {
	for _, topic := range c.reg.topics() {
		c.sendCommand("subscribe", topic)
	}
}

func (c *Client) sendCommand(verb, arg string) {
	c.write(c.det.EncodeCommand(verb, arg))
	if c.handshaking && c.det.Envelope() {
		// Handshake mid-flight: the server may still be reading the line
		// protocol, so the command goes out in both encodings.
		c.write(encodeLineCommand(verb, arg))
	}
}

func (c *Client) write(text string) {
	if c.conn == nil || c.st != StateConnected || text == "" {
		return
	}
	if err := c.conn.Write(text); err != nil {
		c.log.Error("failed to write frame", "client", c.id, "error", err)
	}
}

func (c *Client) setState(s State) {
	if c.st == s {
		return
	}
	c.st = s
	c.state.Store(s)
	c.log.Debug("connection state changed", "client", c.id, "state", string(s))
	c.dispatch(c.stateEvent(), true)
}

func (c *Client) stateEvent() Event {
	return Event{
		Channel:    TopicState,
		Payload:    map[string]any{"state": string(c.st)},
		ReceivedAt: c.clk.Now(),
	}
}

func (c *Client) emitError(err error) {
	c.log.Error("transport error", "client", c.id, "error", err)
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncTransportErrors()
	})
	c.dispatch(Event{
		Channel:    TopicError,
		Payload:    err.Error(),
		ReceivedAt: c.clk.Now(),
	}, true)
}

func (c *Client) dispatch(ev Event, wildcard bool) {
	c.disp.dispatch(ev, wildcard)
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncEventsDispatched()
	})
}

// safeMetricsUpdate runs a metrics mutation only when metrics are
// configured.
func (c *Client) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}
