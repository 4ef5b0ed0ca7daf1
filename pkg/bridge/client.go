// Package bridge is the WebSocket client that connects devbridge to the
// development server. After a hello/welcome handshake both sides exchange
// JSON-RPC 2.0 frames: calls from devbridge, and notifications pushed by the
// server.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/entrhq/devbridge/pkg/logging"
)

const notifyQueueSize = 64

// ErrNotConnected is returned by calls made after the connection dropped,
// and by calls that were pending when it dropped.
var ErrNotConnected = errors.New("dev server bridge is not connected")

// Config describes how to reach the dev server.
type Config struct {
	URL     string
	Token   string
	Client  string
	Timeout time.Duration
	Logger  *logging.Logger
}

func (c Config) withDefaults() Config {
	out := c
	out.URL = strings.TrimSpace(out.URL)
	out.Token = strings.TrimSpace(out.Token)
	if out.Client == "" {
		out.Client = "devbridge"
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	if out.Logger == nil {
		out.Logger = logging.Nop()
	}
	return out
}

// Client is one connection to the dev server. It is safe for concurrent
// use. A Client does not reconnect; callers dial a new one.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	logger *logging.Logger

	welcome welcomeMessage

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan callResult
	closed    bool
	nextID    atomic.Uint64

	notifyMu sync.RWMutex
	onNotify func(Notification)
	notifyCh chan Notification

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to cfg.URL and performs the handshake.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("bridge url is required")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		cfg:      cfg,
		conn:     conn,
		logger:   cfg.Logger,
		pending:  make(map[string]chan callResult),
		notifyCh: make(chan Notification, notifyQueueSize),
		done:     make(chan struct{}),
	}

	if err := c.handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	go c.notifyLoop()
	c.logger.Infof("connected to %s (server %q, protocol %d)", cfg.URL, c.welcome.Server, c.welcome.Version)
	return c, nil
}

func (c *Client) handshake() error {
	hello := helloMessage{Type: "hello", Token: c.cfg.Token, Client: c.cfg.Client, Version: ProtocolVersion}
	if err := c.writeJSON(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	var welcome welcomeMessage
	if err := json.Unmarshal(data, &welcome); err != nil {
		return fmt.Errorf("parse welcome: %w", err)
	}
	if strings.ToLower(strings.TrimSpace(welcome.Type)) != "welcome" {
		if welcome.Error != "" {
			return fmt.Errorf("handshake rejected: %s", welcome.Error)
		}
		return fmt.Errorf("expected welcome, got %q", welcome.Type)
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	c.welcome = welcome
	return nil
}

// ServerVersion returns the protocol version announced in the welcome.
func (c *Client) ServerVersion() int {
	return c.welcome.Version
}

// OnNotify sets the notification handler. Notifications are delivered in
// arrival order on a dedicated goroutine, so the handler may issue calls.
func (c *Client) OnNotify(fn func(Notification)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.onNotify = fn
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connected reports whether the connection is still up.
func (c *Client) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Call sends a request and waits for its response, the configured timeout,
// or ctx, whichever comes first.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, errors.New("method is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id := fmt.Sprintf("%d", c.nextID.Add(1))
	ch := make(chan callResult, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeJSON(req); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	select {
	case <-callCtx.Done():
		c.dropPending(id)
		return nil, fmt.Errorf("call %s: %w", method, callCtx.Err())
	case res := <-ch:
		return res.Result, res.Err
	}
}

// Notify sends a notification to the server. No response is expected.
func (c *Client) Notify(method string, params any) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.writeJSON(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// Close closes the connection and fails pending calls. It waits for the
// read loop to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warnf("connection to %s lost: %v", c.cfg.URL, err)
			}
			break
		}
		c.handleMessage(data)
	}

	c.failAllPending(ErrNotConnected)
	close(c.notifyCh)
	_ = c.conn.Close()
	close(c.done)
}

func (c *Client) notifyLoop() {
	for n := range c.notifyCh {
		c.notifyMu.RLock()
		fn := c.onNotify
		c.notifyMu.RUnlock()
		if fn != nil {
			fn(n)
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var frame rpcFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Debugf("ignoring malformed frame: %v", err)
		return
	}
	if strings.TrimSpace(frame.JSONRPC) != "2.0" {
		return
	}
	if frame.Method != "" {
		c.notifyCh <- Notification{Method: frame.Method, Params: frame.Params}
		return
	}

	id := rpcIDToString(frame.ID)
	if id == "" {
		return
	}

	out := callResult{Result: frame.Result}
	if frame.Error != nil {
		out.Err = frame.Error
	}

	c.pendingMu.Lock()
	ch := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if ch == nil {
		c.logger.Debugf("response for unknown call %s", id)
		return
	}
	ch <- out
}

func (c *Client) dropPending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- callResult{Err: err}
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}
