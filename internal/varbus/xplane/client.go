// Package xplane implements the variable bus on top of the X-Plane web API.
//
// Keys are dataref names, optionally with an array index suffix
// ("sim/flightmodel/engine/ENGN_running[0]"). Reads and writes go through
// the REST endpoints; Subscribe streams updates from the websocket.
package xplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// Config holds the web API endpoints.
type Config struct {
	RESTURL        string
	WebSocketURL   string
	RequestTimeout time.Duration
	CacheSize      int
	// ReconnectMin and ReconnectMax bound the exponential backoff between
	// websocket redials after the simulator drops the connection.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Default reconnect backoff bounds.
const (
	DefaultReconnectMin = 500 * time.Millisecond
	DefaultReconnectMax = 30 * time.Second
)

// dataref is a parsed key.
type dataref struct {
	name  string
	index int // -1 when the key addresses the whole dataref
}

func parseKey(key string) dataref {
	open := strings.LastIndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return dataref{name: key, index: -1}
	}
	idx, err := strconv.Atoi(key[open+1 : len(key)-1])
	if err != nil || idx < 0 {
		return dataref{name: key, index: -1}
	}
	return dataref{name: key[:open], index: idx}
}

// subscriber is one Subscribe call.
type subscriber struct {
	ref dataref
	ch  chan varbus.Value
}

// Client is a varbus.Bus backed by the X-Plane web API.
type Client struct {
	cfg    Config
	http   *http.Client
	ids    *lru.Cache[string, int64] // dataref name -> session id
	logger *logging.Logger
	reqID  atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn // nil while disconnected
	writeMu sync.Mutex
	subs    map[int]*subscriber
	nextSub int
	byID    map[int64]string // subscribed dataref id -> name, per session
	stop    context.CancelFunc
	stopped chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client. It does not contact the simulator; call Connect to
// open the websocket used by Subscribe.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = DefaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = max(DefaultReconnectMax, cfg.ReconnectMin)
	}
	cfg.RESTURL = strings.TrimRight(cfg.RESTURL, "/")

	ids, err := lru.New[string, int64](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataref id cache: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		ids:    ids,
		logger: logging.NopLogger(),
		subs:   make(map[int]*subscriber),
		byID:   make(map[int64]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("xplane")
	return c, nil
}

// ReadVar implements varbus.Bus.
func (c *Client) ReadVar(ctx context.Context, key string) (varbus.Value, error) {
	ref := parseKey(key)
	id, err := c.lookupID(ctx, ref.name)
	if err != nil {
		return varbus.Value{}, wrapBusErr(err, key, "read")
	}

	var resp valueResponse
	if err := c.doJSON(ctx, http.MethodGet, c.valueURL(id, ref.index), nil, &resp); err != nil {
		c.forgetOnNotFound(ref.name, err)
		return varbus.Value{}, wrapBusErr(err, key, "read")
	}

	v, err := toValue(resp.Data, ref.index)
	if err != nil {
		return varbus.Value{}, wrapBusErr(err, key, "read")
	}
	return v, nil
}

// WriteVar implements varbus.Bus.
func (c *Client) WriteVar(ctx context.Context, key string, v varbus.Value) error {
	ref := parseKey(key)
	id, err := c.lookupID(ctx, ref.name)
	if err != nil {
		return wrapBusErr(err, key, "write")
	}

	body := valueRequest{Data: v.Num}
	if err := c.doJSON(ctx, http.MethodPatch, c.valueURL(id, ref.index), body, nil); err != nil {
		c.forgetOnNotFound(ref.name, err)
		return wrapBusErr(err, key, "write")
	}
	return nil
}

// Subscribe implements varbus.Bus. Updates arrive once Connect has succeeded;
// subscriptions made before Connect are sent when the websocket opens.
func (c *Client) Subscribe(key string) (<-chan varbus.Value, func()) {
	sub := &subscriber{ref: parseKey(key), ch: make(chan varbus.Value, 1)}

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	connected := c.conn != nil
	c.mu.Unlock()

	if connected {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
			defer cancel()
			if err := c.sendSubscription(ctx, []string{sub.ref.name}); err != nil {
				c.logger.Warn("dataref subscription failed", "dataref", sub.ref.name, "error", err)
			}
		}()
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Connect opens the websocket and subscribes every pending key. It returns
// once the connection is established; updates are read in the background
// until Close is called or ctx ends, so ctx should span the client's useful
// life rather than just the dial. A dropped connection is redialed with
// backoff and every live subscription is sent again.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	runCtx, stop := context.WithCancel(ctx)
	c.stop = stop
	c.stopped = make(chan struct{})
	stopped := c.stopped
	c.mu.Unlock()

	c.logger.Info("websocket connection established", "url", c.cfg.WebSocketURL)
	c.attach(runCtx, conn, false)
	go c.maintain(runCtx, conn, stopped)
	return nil
}

// Close shuts the websocket down and waits for the connection loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	stop, stopped, conn := c.stop, c.stopped, c.conn
	c.stop = nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
	}
	stop()
	<-stopped
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WebSocketURL, nil)
	if err != nil {
		return nil, errors.NewBusError("websocket connect failed",
			fmt.Errorf("%w: %v", errors.ErrBusUnavailable, err)).WithOp("connect")
	}
	return conn, nil
}

// attach makes conn the live session and subscribes every current key.
// Dataref ids are only valid for one simulator session, so a reconnect
// drops the cached ids and looks them up again.
func (c *Client) attach(ctx context.Context, conn *websocket.Conn, reconnect bool) {
	if reconnect {
		c.ids.Purge()
	}

	c.mu.Lock()
	c.conn = conn
	clear(c.byID)
	names := make([]string, 0, len(c.subs))
	for _, sub := range c.subs {
		names = append(names, sub.ref.name)
	}
	c.mu.Unlock()

	if len(names) == 0 {
		return
	}
	subCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if err := c.sendSubscription(subCtx, names); err != nil {
		c.logger.Warn("dataref subscription failed", "error", err)
	}
}

// maintain reads conn until it fails, then redials until ctx ends.
func (c *Client) maintain(ctx context.Context, conn *websocket.Conn, stopped chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.stopped == stopped {
			// ctx ended without Close; allow a later Connect
			c.stop = nil
		}
		c.mu.Unlock()
		close(stopped)
	}()
	for {
		c.readSession(ctx, conn)

		c.mu.Lock()
		if c.conn == conn {
			// Subscribe must not treat us as connected
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("websocket connection lost, reconnecting")
		if conn = c.redial(ctx); conn == nil {
			return
		}
		c.logger.Info("websocket connection re-established", "url", c.cfg.WebSocketURL)
		c.attach(ctx, conn, true)
	}
}

// redial retries the websocket with exponential backoff. It returns nil
// once ctx ends.
func (c *Client) redial(ctx context.Context) *websocket.Conn {
	delay := c.cfg.ReconnectMin
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		conn, err := c.dial(ctx)
		if err == nil {
			return conn
		}
		delay = min(delay*2, c.cfg.ReconnectMax)
		c.logger.Debug("websocket redial failed", "error", err, "retry_in", delay.String())
		timer.Reset(delay)
	}
}

// readSession dispatches messages from conn until it fails or ctx ends.
func (c *Client) readSession(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("websocket closed")
			} else {
				c.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		c.processMessage(message)
	}
}

func (c *Client) processMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("malformed websocket message", "error", err)
		return
	}

	switch msg.Type {
	case "dataref_update_values":
		c.dispatchUpdates(msg.Data)
	case "result":
		if !msg.Success {
			c.logger.Warn("websocket request failed", "req_id", msg.RequestID)
		}
	default:
		c.logger.Debug("ignoring websocket message", "type", msg.Type)
	}
}

func (c *Client) dispatchUpdates(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for rawID, raw := range data {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			continue
		}
		name, ok := c.byID[id]
		if !ok {
			continue
		}
		for _, sub := range c.subs {
			if sub.ref.name != name {
				continue
			}
			v, err := toValue(raw, sub.ref.index)
			if err != nil {
				continue
			}
			deliverLatest(sub.ch, v)
		}
	}
}

func deliverLatest(ch chan varbus.Value, v varbus.Value) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func (c *Client) sendSubscription(ctx context.Context, names []string) error {
	refs := make([]subRef, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		id, err := c.lookupID(ctx, name)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.byID[id] = name
		c.mu.Unlock()
		refs = append(refs, subRef{ID: id})
	}

	req := subscribeRequest{
		RequestID: c.reqID.Add(1),
		Type:      "dataref_subscribe_values",
		Params:    subscribeParams{Datarefs: refs},
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	c.logger.Debug("sent dataref subscription", "req_id", req.RequestID, "count", len(refs))
	return nil
}

// lookupID resolves a dataref name to its session id, caching the result.
func (c *Client) lookupID(ctx context.Context, name string) (int64, error) {
	if id, ok := c.ids.Get(name); ok {
		return id, nil
	}

	u, err := url.Parse(c.cfg.RESTURL + "/datarefs")
	if err != nil {
		return 0, fmt.Errorf("error parsing base URL: %w", err)
	}
	q := u.Query()
	q.Add("filter[name]", name)
	u.RawQuery = q.Encode()

	var resp datarefsResponse
	if err := c.doJSON(ctx, http.MethodGet, u.String(), nil, &resp); err != nil {
		return 0, err
	}
	for _, info := range resp.Data {
		if info.Name == name {
			c.ids.Add(name, info.ID)
			return info.ID, nil
		}
	}
	return 0, errors.ErrBusKeyUnknown
}

// forgetOnNotFound drops a cached id the simulator no longer recognizes
// (dataref ids are only stable for one simulator session).
func (c *Client) forgetOnNotFound(name string, err error) {
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		c.ids.Remove(name)
	}
}

func (c *Client) valueURL(id int64, index int) string {
	u := fmt.Sprintf("%s/datarefs/%d/value", c.cfg.RESTURL, id)
	if index >= 0 {
		u += "?index=" + strconv.Itoa(index)
	}
	return u
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("received non-OK status code %d from X-Plane REST API: %s", e.code, e.body)
}

func (c *Client) doJSON(ctx context.Context, method, fullURL string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errors.ErrBusUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response body: %w", err)
	}
	return nil
}

func wrapBusErr(err error, key, op string) error {
	if errors.IsCanceled(err) {
		return err
	}
	var busErr *errors.BusError
	if errors.As(err, &busErr) {
		return busErr
	}
	return errors.NewBusError(op+" failed", err).WithKey(key).WithOp(op)
}

// toValue converts a decoded JSON dataref value. Arrays are indexed when
// index >= 0, otherwise their first element is used.
func toValue(raw any, index int) (varbus.Value, error) {
	switch v := raw.(type) {
	case float64:
		return varbus.Float(v), nil
	case bool:
		return varbus.Bool(v), nil
	case []any:
		if index < 0 {
			index = 0
		}
		if index >= len(v) {
			return varbus.Value{}, fmt.Errorf("%w: index %d of %d", errors.ErrOutOfRange, index, len(v))
		}
		return toValue(v[index], -1)
	default:
		return varbus.Value{}, fmt.Errorf("%w: unsupported dataref value %T", errors.ErrInvalidInput, raw)
	}
}
