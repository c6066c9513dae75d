// Package streamclient implements the exchange user-data stream (spec
// §4.E/§4.F): a resilient WebSocket connection with exponential
// backoff+jitter reconnection and ping/pong heartbeat. Listen-key refresh is
// not done here; the exchange adapter runs it.
// Grounded on the teacher's pkg/websocket.Client reconnect loop, adapted in
// one deliberate way flagged by the specification's redesign notes: the
// execution-report callback is constructor-injected instead of set later via
// a SetOnConnected-style setter, so the stream can never run without a
// consumer wired up.
package streamclient

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"executioncore/internal/config"
	"executioncore/internal/core"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// ReportHandler is invoked for every parsed executionReport event.
type ReportHandler func(core.ExecutionReport)

// Client is the core.IStreamClient implementation.
type Client struct {
	url     string
	onReport ReportHandler
	logger  core.ILogger

	pingInterval     time.Duration
	reconnectBase    time.Duration
	reconnectMax     time.Duration
	connectTimeout   time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	state core.StreamState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(url string, cfg config.StreamConfig, onReport ReportHandler, logger core.ILogger) *Client {
	return &Client{
		url:            url,
		onReport:       onReport,
		logger:         logger,
		pingInterval:   cfg.PingInterval(),
		reconnectBase:  cfg.ReconnectBase(),
		reconnectMax:   cfg.ReconnectMax(),
		connectTimeout: cfg.ConnectTimeout(),
		state:          core.StreamDisconnected,
	}
}

func (c *Client) State() core.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s core.StreamState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect starts the reconnect loop in the background and returns at once,
// before the first connection attempt is made; it always returns nil.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.setState(core.StreamConnecting)
	c.wg.Add(1)
	go c.runLoop()
	return nil
}

func (c *Client) Disconnect() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.closeConn()
	c.setState(core.StreamDisconnected)
	return nil
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connectOnce(); err != nil {
			c.logger.Error("stream connect failed", "url", c.url, "error", err)
			c.setState(core.StreamReconnecting)
			delay := backoffWithJitter(c.reconnectBase, c.reconnectMax, attempt)
			attempt++
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setState(core.StreamConnected)

		heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
		c.wg.Add(1)
		go c.heartbeat(heartbeatCtx)

		c.readLoop()
		heartbeatCancel()

		select {
		case <-c.ctx.Done():
			return
		default:
			c.setState(core.StreamReconnecting)
		}
	}
}

// backoffWithJitter implements full-jitter exponential backoff: a random
// duration in [0, min(max, base*2^attempt)], both ends included.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	exp := base << attempt
	if exp <= 0 || exp > max {
		exp = max
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

func (c *Client) connectOnce() error {
	dialCtx, cancel := context.WithTimeout(c.ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return err
	}

	conn.SetPongHandler(func(string) error { return nil })

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pingInterval/2)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("stream read error", "error", err)
			c.closeConn()
			return
		}

		report, ok := parseExecutionReport(message)
		if !ok {
			continue
		}
		c.onReport(report)
	}
}

// executionReportPayload mirrors the Binance-style executionReport event
// fields the spec's ExecutionReport type condenses down to.
type executionReportPayload struct {
	EventType          string `json:"e"`
	Symbol             string `json:"s"`
	Side               string `json:"S"`
	OrderType          string `json:"o"`
	Status             string `json:"X"`
	OrderID            int64  `json:"i"`
	LastExecutedQty    string `json:"l"`
	CumulativeFilledQty string `json:"z"`
	LastExecutedPrice  string `json:"L"`
	Commission         string `json:"n"`
	CommissionAsset    string `json:"N"`
	TransactionTime    int64  `json:"T"`
	TradeID            int64  `json:"t"`
}

func parseExecutionReport(raw []byte) (core.ExecutionReport, bool) {
	var p executionReportPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.EventType != "executionReport" {
		return core.ExecutionReport{}, false
	}

	lastQty, _ := decimal.NewFromString(p.LastExecutedQty)
	cumQty, _ := decimal.NewFromString(p.CumulativeFilledQty)
	lastPrice, _ := decimal.NewFromString(p.LastExecutedPrice)
	commission, _ := decimal.NewFromString(p.Commission)

	return core.ExecutionReport{
		Symbol:              p.Symbol,
		Side:                core.Side(p.Side),
		Type:                core.OrderType(p.OrderType),
		Status:              p.Status,
		ExchangeOrderID:     itoa(p.OrderID),
		LastExecutedQty:     lastQty,
		CumulativeFilledQty: cumQty,
		LastExecutedPrice:   lastPrice,
		Commission:          commission,
		CommissionAsset:     p.CommissionAsset,
		TransactionTime:     time.UnixMilli(p.TransactionTime),
		TradeID:             itoa(p.TradeID),
	}, true
}

func itoa(v int64) string {
	return decimal.NewFromInt(v).String()
}

var _ core.IStreamClient = (*Client)(nil)
