// Package feed streams quote updates from a venue over WebSocket and
// maintains a latest-quote cache the orchestrator reads each tick. The
// connection reconnects with capped exponential backoff; the cache keeps
// serving the last known quotes across a reconnect, with their original
// timestamps so staleness checks still see the true quote age.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/logging"
	"github.com/phenomenon0/edgetrader/pkg/trader/market"
)

// State is the connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// quoteMessage is the wire shape of one quote update.
type quoteMessage struct {
	ContractID string  `json:"contract_id"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Liquidity  string  `json:"liquidity"`
	Timestamp  int64   `json:"timestamp"` // unix ms
}

// Config holds the feed connection settings.
type Config struct {
	URL   string       `yaml:"url"`
	Venue market.Venue `yaml:"venue"`

	ReconnectMinDelay time.Duration `yaml:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
}

// DefaultConfig returns reconnect and heartbeat defaults for a feed URL.
func DefaultConfig(url string, venue market.Venue) Config {
	return Config{
		URL:               url,
		Venue:             venue,
		ReconnectMinDelay: 1 * time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
	}
}

// Client maintains the connection and the latest-quote cache.
type Client struct {
	cfg   Config
	state int32 // atomic State

	mu     sync.RWMutex
	cache  map[string]market.Quote // quote key -> latest quote
	conn   *websocket.Conn
	connMu sync.Mutex

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	onQuote func(market.Quote) // optional
}

// NewClient creates a feed client. Call Start to connect.
func NewClient(cfg Config) *Client {
	def := DefaultConfig(cfg.URL, cfg.Venue)
	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = def.ReconnectMinDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	return &Client{
		cfg:     cfg,
		cache:   make(map[string]market.Quote),
		closeCh: make(chan struct{}),
	}
}

// OnQuote registers a callback invoked for every quote update, after the
// cache is updated. Must be set before Start.
func (c *Client) OnQuote(fn func(market.Quote)) { c.onQuote = fn }

// State returns the current connection state.
func (c *Client) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Client) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// Start connects and keeps the connection alive until Close or context
// cancellation. It returns after the first successful dial or the first
// fatal dial error; reconnection after that runs in the background.
func (c *Client) Start(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Close shuts the feed down.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.closeCh)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
		c.wg.Wait()
	})
}

// Quotes implements the orchestrator's QuoteSource over the cache.
func (c *Client) Quotes(_ context.Context) ([]market.Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]market.Quote, 0, len(c.cache))
	for _, q := range c.cache {
		out = append(out, q)
	}
	return out, nil
}

// Quote returns the latest cached quote for a contract and side.
func (c *Client) Quote(contractID string, side market.Side) (market.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.cache[contractID+"/"+string(side)]
	return q, ok
}

func (c *Client) dial(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.setState(StateConnected)
	logging.Infof("[feed] connected to %s", c.cfg.URL)
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	delay := c.cfg.ReconnectMinDelay

	for {
		err := c.readLoop(ctx)
		if c.State() == StateClosed || ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
		logging.Warnf("[feed] connection lost: %v, reconnecting in %s", err, delay)

		select {
		case <-c.closeCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := c.dial(ctx); err != nil {
			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
			continue
		}
		delay = c.cfg.ReconnectMinDelay
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Debugf("[feed] skipping unparseable message: %v", err)
		return
	}
	if msg.ContractID == "" {
		return
	}

	liquidity, err := decimal.NewFromString(msg.Liquidity)
	if err != nil {
		liquidity = decimal.Zero
	}
	ts := time.UnixMilli(msg.Timestamp)
	if msg.Timestamp == 0 {
		ts = time.Now()
	}

	q := market.Quote{
		Venue:      c.cfg.Venue,
		ContractID: msg.ContractID,
		Side:       market.Side(msg.Side),
		Price:      msg.Price,
		Format:     market.FormatProbability,
		Liquidity:  liquidity,
		Timestamp:  ts,
	}

	c.mu.Lock()
	c.cache[q.Key()] = q
	c.mu.Unlock()

	if c.onQuote != nil {
		c.onQuote(q)
	}
}
