// Package exchange composes the rate limiter, circuit breaker, REST client,
// and user-data stream into the single core.IExchangeAdapter collaborator
// the rest of the system depends on (spec §4.E).
package exchange

import (
	"context"
	"time"

	"executioncore/internal/config"
	"executioncore/internal/core"
	"executioncore/internal/exchange/circuitbreaker"
	"executioncore/internal/exchange/ratelimiter"
	"executioncore/internal/exchange/restclient"
	"executioncore/internal/exchange/streamclient"
)

// Adapter is the core.IExchangeAdapter implementation.
type Adapter struct {
	core.IExchangeREST
	stream    *streamclient.Client
	cfg       config.StreamConfig
	streamURL string
	logger    core.ILogger

	listenKey     string
	refreshCancel context.CancelFunc
}

// New builds the REST side of the adapter stack from configuration. It takes
// no stream callbacks: onReport/onStatus are passed to StartUserDataStream,
// which hands them to the stream client's constructor rather than a setter
// (SPEC_FULL §9).
func New(cfg config.ExchangeConfig, rlCfg config.RateLimiterConfig, cbCfg config.CircuitBreakerConfig, streamCfg config.StreamConfig, logger core.ILogger) *Adapter {
	rl := ratelimiter.New(rlCfg.Capacity, rlCfg.RefillPerSec, rlCfg.MaxQueueSize, rlCfg.MaxWait())
	cb := circuitbreaker.New(cbCfg.FailureThreshold, cbCfg.SuccessThreshold, cbCfg.WindowSize, cbCfg.Timeout())
	rest := restclient.New(cfg, rl, cb, logger)

	return &Adapter{
		IExchangeREST: rest,
		cfg:           streamCfg,
		streamURL:     cfg.StreamURL,
		logger:        logger,
	}
}

// StartUserDataStream obtains a listenKey, opens the stream, translates raw
// ExecutionReport events into fill/status callbacks, and keeps the listenKey
// alive on a ticker for as long as the stream runs (spec §4.E/§4.F).
func (a *Adapter) StartUserDataStream(ctx context.Context, onReport func(core.ExecutionReport), onStatus func(symbol, exchangeOrderID, status string)) error {
	listenKey, err := a.GetListenKey(ctx)
	if err != nil {
		return err
	}
	a.listenKey = listenKey

	handler := func(report core.ExecutionReport) {
		onReport(report)
		onStatus(report.Symbol, report.ExchangeOrderID, report.Status)
	}

	streamURL := buildStreamURL(a.streamURL, listenKey)
	a.stream = streamclient.New(streamURL, a.cfg, handler, a.logger)
	if err := a.stream.Connect(ctx); err != nil {
		return err
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	a.refreshCancel = cancel
	go a.keepAliveListenKey(refreshCtx, listenKey)

	return nil
}

func (a *Adapter) StopUserDataStream() error {
	if a.refreshCancel != nil {
		a.refreshCancel()
	}
	if a.stream != nil {
		return a.stream.Disconnect()
	}
	return nil
}

func (a *Adapter) keepAliveListenKey(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(a.cfg.ListenKeyRefresh())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.KeepAliveListenKey(ctx, listenKey); err != nil {
				a.logger.Error("failed to refresh listen key", "error", err)
			}
		}
	}
}

func buildStreamURL(base, listenKey string) string {
	return base + "/" + listenKey
}

var _ core.IExchangeAdapter = (*Adapter)(nil)
