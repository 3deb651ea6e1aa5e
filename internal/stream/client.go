package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoToken is returned by Connect when no bearer token is configured.
// It is checked before any network operation.
var ErrNoToken = errors.New("stream: no bearer token")

// State describes the connection lifecycle of the streaming client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Options configures a streaming client.
type Options struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api. The
	// stream endpoint is BaseURL + "/sse/connect".
	BaseURL string

	// Token is the bearer credential. The stream transport cannot set
	// headers, so it travels as a query parameter.
	Token string

	// ReconnectFloor is the initial retry delay. Defaults to 1s.
	ReconnectFloor time.Duration

	// ReconnectCeiling caps the doubling retry delay. Defaults to 30s.
	ReconnectCeiling time.Duration

	// MaxReconnectAttempts bounds consecutive failed reconnects before
	// the client gives up until the next explicit Connect. Defaults to 5.
	MaxReconnectAttempts int

	// HTTPClient overrides the transport. The default has no overall
	// timeout: the connection is long-lived and relies on heartbeats
	// plus transport-level close detection.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// Client maintains a single live server-push connection and delivers
// normalized notification events to its subscribers. It owns the
// reconnection policy; transport failures after a successful Connect are
// absorbed into the state machine and never surfaced to callers.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	state      State
	gen        int
	cancel     context.CancelFunc
	retryTimer *time.Timer
	attempts   int
	delay      time.Duration
	subs       map[int]func(Event)
	nextSub    int
	onState    func(State)

	// afterFunc schedules reconnect timers; swapped out in tests.
	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates a streaming client. It does not connect.
func New(opts Options) *Client {
	if opts.ReconnectFloor <= 0 {
		opts.ReconnectFloor = time.Second
	}
	if opts.ReconnectCeiling <= 0 {
		opts.ReconnectCeiling = 30 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	return &Client{
		opts:      opts,
		log:       opts.Logger.With().Str("component", "stream").Logger(),
		state:     StateDisconnected,
		delay:     opts.ReconnectFloor,
		subs:      make(map[int]func(Event)),
		afterFunc: time.AfterFunc,
	}
}

// Subscribe registers fn to receive each normalized notification event
// and returns an unsubscribe func. Subscriptions added or removed while
// connected take effect for subsequent events.
func (c *Client) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// SetStateListener registers a single observer for connection state
// transitions. Intended for the UI status line.
func (c *Client) SetStateListener(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the stream. It fails fast with ErrNoToken before
// any network operation when no credential is configured. An already
// active connection is torn down first, never duplicated. A failed dial
// is handed to the reconnection loop rather than returned, so after a
// nil return the caller observes progress only through the state
// listener and event subscriptions.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.Token == "" {
		return ErrNoToken
	}

	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.attempts = 0
	c.delay = c.opts.ReconnectFloor
	c.setStateLocked(StateConnecting)
	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.open(streamCtx, gen); err != nil {
		c.log.Warn().Err(err).Msg("initial stream open failed")
		c.mu.Lock()
		if gen == c.gen {
			c.setStateLocked(StateReconnecting)
			c.scheduleRetryLocked(streamCtx, gen)
		}
		c.mu.Unlock()
	}
	return nil
}

// Disconnect idempotently tears down the active connection and cancels
// any pending scheduled retry. Safe to call when none exists.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.teardownLocked()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
}

// teardownLocked cancels the active transport and pending retry timer.
// Callers must hold c.mu.
func (c *Client) teardownLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// setStateLocked records a state transition and notifies the listener.
// Callers must hold c.mu.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.log.Debug().
		Str("from", c.state.String()).
		Str("to", s.String()).
		Msg("stream state transition")
	c.state = s

	if fn := c.onState; fn != nil {
		go fn(s)
	}
}

// streamURL builds the connect URL with the token as a query parameter;
// the event-stream transport does not support custom headers.
func (c *Client) streamURL() string {
	return strings.TrimRight(c.opts.BaseURL, "/") +
		"/sse/connect?token=" + url.QueryEscape(c.opts.Token)
}

// open dials the stream endpoint and, on success, transitions to Open
// and starts the read loop. gen guards against a Connect/Disconnect
// that superseded this attempt while the dial was in flight.
func (c *Client) open(ctx context.Context, gen int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("stream endpoint returned content type %q", ct)
	}

	c.mu.Lock()
	if gen != c.gen {
		// Superseded while dialing.
		c.mu.Unlock()
		resp.Body.Close()
		return nil
	}
	c.attempts = 0
	c.delay = c.opts.ReconnectFloor
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.log.Info().Msg("stream connection established")
	go c.readLoop(ctx, gen, resp.Body)
	return nil
}

// readLoop parses the event stream line by line and dispatches complete
// events until the transport closes.
func (c *Client) readLoop(ctx context.Context, gen int, body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if len(dataLines) > 0 || eventName != "" {
				c.dispatch(eventName, strings.Join(dataLines, "\n"))
			}
			eventName = ""
			dataLines = nil

		case strings.HasPrefix(line, ":"):
			// Comment line, keep-alive filler.

		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))

		default:
			// Field we do not use (id:, retry:).
		}
	}

	c.streamClosed(ctx, gen, scanner.Err())
}

// streamClosed handles a transport closure that was not requested via
// Disconnect: it enters Reconnecting and schedules a retry.
func (c *Client) streamClosed(ctx context.Context, gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		// Explicitly disconnected or replaced; nothing to do.
		return
	}

	c.log.Warn().Err(err).Msg("stream connection lost")
	c.setStateLocked(StateReconnecting)
	c.scheduleRetryLocked(ctx, gen)
}

// scheduleRetryLocked schedules the next reconnect attempt with
// exponential backoff, or goes terminal once the attempt budget is
// spent. Callers must hold c.mu.
func (c *Client) scheduleRetryLocked(ctx context.Context, gen int) {
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.log.Error().
			Int("attempts", c.attempts).
			Msg("max reconnection attempts reached, giving up")
		c.setStateLocked(StateDisconnected)
		return
	}

	c.attempts++
	d := c.delay
	c.delay = c.delay * 2
	if c.delay > c.opts.ReconnectCeiling {
		c.delay = c.opts.ReconnectCeiling
	}

	c.log.Info().
		Int("attempt", c.attempts).
		Int("max", c.opts.MaxReconnectAttempts).
		Dur("delay", d).
		Msg("scheduling stream reconnect")

	c.retryTimer = c.afterFunc(d, func() {
		c.retry(ctx, gen)
	})
}

// retry performs one scheduled reconnect attempt.
func (c *Client) retry(ctx context.Context, gen int) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.open(ctx, gen); err != nil {
		c.log.Warn().Err(err).Msg("stream reconnect failed")
		c.mu.Lock()
		if gen == c.gen {
			c.scheduleRetryLocked(ctx, gen)
		}
		c.mu.Unlock()
	}
}

// dispatch routes one complete inbound event. Malformed payloads are
// dropped with a diagnostic; nothing on this path panics or propagates
// to subscribers.
func (c *Client) dispatch(eventName, data string) {
	switch eventName {
	case eventPing:
		// Heartbeat, silently discarded.

	case eventConnected:
		var p connectedPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed connected event")
			return
		}
		c.log.Debug().Str("user_id", p.UserID).Msg("stream bound to user")

	case eventCVUpdateRequest:
		p, err := decodePayload([]byte(data))
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed cv_update_request event")
			return
		}
		c.deliver(Event{
			Title:     p.Title,
			Message:   p.Message,
			Kind:      kindFor(eventCVUpdateRequest),
			RequestID: p.RequestID,
		})

	case eventNotification:
		p, err := decodePayload([]byte(data))
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed notification event")
			return
		}
		c.deliver(Event{
			Title:     p.Title,
			Message:   p.Message,
			Kind:      kindFor(p.Type),
			RequestID: p.RequestID,
		})

	case "":
		// Unnamed message event: route by the JSON type discriminant.
		p, err := decodePayload([]byte(data))
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed message event")
			return
		}
		if p.Type == eventCVUpdateRequest {
			c.deliver(Event{
				Title:     p.Title,
				Message:   p.Message,
				Kind:      kindFor(eventCVUpdateRequest),
				RequestID: p.RequestID,
			})
		}

	default:
		c.log.Debug().Str("event", eventName).Msg("ignoring unrecognized event category")
	}
}

// deliver fans an event out to the current subscribers.
func (c *Client) deliver(ev Event) {
	c.mu.Lock()
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
