package bybit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "liqstream/config"
	metrics "liqstream/internal/metrics"
	"liqstream/internal/models"
	"liqstream/logger"
)

const streamName = "bybit_liquidation"

// State is the connection state of a LiquidationReader.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Sink receives every normalised record. Implementations must be safe for
// concurrent use and must not block for long.
type Sink interface {
	Push(models.LiquidationRecord)
}

// LiquidationReader keeps one websocket to the Bybit public linear stream
// subscribed to allLiquidation.<symbol> for every configured symbol and
// pushes each event into its Sink. It reconnects until stopped.
type LiquidationReader struct {
	cfg     appconfig.BybitLiquidationConfig
	sink    Sink
	log     *logger.Log
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	topics  []string

	state      atomic.Int32
	reconnects atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLiquidationReader builds a reader; symbols are trimmed and blanks skipped.
func NewLiquidationReader(cfg appconfig.BybitLiquidationConfig, sink Sink) *LiquidationReader {
	if cfg.URL == "" {
		cfg.URL = appconfig.DefaultBybitURL
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = appconfig.DefaultTopicPrefix
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultKeepAlive
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = defaultReconnectDelay
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = defaultMaxDelay
	}

	limit := rate.Inf
	burst := cfg.RateLimit.BurstSize
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}

	topics := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		topics = append(topics, cfg.TopicPrefix+s)
	}

	return &LiquidationReader{
		cfg:  cfg,
		sink: sink,
		log:  logger.GetLogger(),
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
		topics:  topics,
	}
}

// Topics lists the channel names sent in the subscription request.
func (r *LiquidationReader) Topics() []string {
	return append([]string(nil), r.topics...)
}

func (r *LiquidationReader) State() State {
	return State(r.state.Load())
}

func (r *LiquidationReader) StateName() string {
	return r.State().String()
}

// Reconnects counts how often an established or attempted session failed.
func (r *LiquidationReader) Reconnects() int64 {
	return r.reconnects.Load()
}

func (r *LiquidationReader) setState(s State) {
	r.state.Store(int32(s))
	metrics.SetConnectionState(int(s))
}

// Start launches the connection loop in the background.
func (r *LiquidationReader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("bybit liquidation reader already running")
	}
	if len(r.topics) == 0 {
		return fmt.Errorf("no symbols configured for bybit liquidation reader")
	}
	if r.sink == nil {
		return fmt.Errorf("bybit liquidation reader has no sink")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.log.WithComponent("bybit_liq_reader").WithFields(logger.Fields{
		"url":    r.cfg.URL,
		"topics": strings.Join(r.topics, ","),
	}).Info("starting bybit liquidation reader")

	r.wg.Add(1)
	go r.run(runCtx)
	return nil
}

// Stop cancels the loop, closes the socket and waits for the worker to exit.
func (r *LiquidationReader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.log.WithComponent("bybit_liq_reader").Info("bybit liquidation reader stopped")
}

func (r *LiquidationReader) run(ctx context.Context) {
	defer r.wg.Done()
	defer r.setState(StateDisconnected)

	log := r.log.WithComponent("bybit_liq_reader").WithField("url", r.cfg.URL)
	attempt := 0

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		subscribed, err := r.session(ctx, log)
		r.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			attempt = 0
		}

		delay := backoffDelay(attempt, r.cfg.Retry.BaseDelay, r.cfg.Retry.MaxDelay, r.cfg.Retry.BackoffMultiplier)
		attempt++
		r.reconnects.Add(1)
		metrics.IncrementReconnects()
		logger.IncrementReconnect()

		log.WithError(err).WithFields(logger.Fields{
			"retry_in": delay.String(),
			"attempt":  attempt,
		}).Warn("bybit liquidation stream disconnected, reconnecting")

		if waitForReconnect(ctx, delay) {
			return
		}
	}
}

// session runs one connection through Connected and Subscribed. It always
// returns a non-nil error describing why the connection ended.
func (r *LiquidationReader) session(ctx context.Context, log *logger.Entry) (bool, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	r.setState(StateConnected)

	// unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	reqID, err := subscribeBybit(conn, r.topics)
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	r.setState(StateSubscribed)
	log.WithFields(logger.Fields{
		"req_id": reqID,
		"topics": len(r.topics),
	}).Info("subscribed to bybit liquidation topics")

	readTimeout := r.cfg.ReadTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingCancel := startPingLoop(ctx, conn, r.cfg.PingInterval, log)
	defer pingCancel()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return true, fmt.Errorf("closed by venue: %w", err)
			}
			return true, fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		r.handleFrame(msg, log)
	}
}

func (r *LiquidationReader) handleFrame(msg []byte, log *logger.Entry) {
	metrics.IncrementFramesReceived()
	logger.RecordStreamMessage(streamName, len(msg))

	res := parseFrame(msg)
	switch res.kind {
	case frameMalformed:
		log.WithError(res.err).Debug("failed to decode bybit frame, skipping message")
		metrics.EmitDropMetric(r.log, metrics.DropMetricMalformedFrame, "")
		return
	case frameAck:
		r.handleAck(res.ack, log)
		return
	case frameNoData:
		log.WithField("topic", res.topic).Debug("bybit frame without data list, skipping message")
		metrics.EmitDropMetric(r.log, metrics.DropMetricNoData, "")
		return
	}

	for _, d := range res.drops {
		log.WithError(d.err).WithField("symbol", d.symbol).Debug("dropping malformed liquidation element")
		metrics.EmitDropMetric(r.log, d.reason, d.symbol)
	}

	for _, rec := range res.records {
		r.sink.Push(rec)
		metrics.IncrementRecordsIngested(rec.Symbol)
		log.WithFields(logger.Fields{
			"event_time": rec.Timestamp,
			"symbol":     rec.Symbol,
			"side":       rec.Side,
			"size":       rec.Size.String(),
			"price":      rec.Price.String(),
		}).Debug("liquidation recorded")
	}
	logger.IncrementRecordsIngested(len(res.records))

	if sized, ok := r.sink.(interface{ Len() int }); ok {
		metrics.SetBufferLength(sized.Len())
	}
}

func (r *LiquidationReader) handleAck(ack subscriptionAck, log *logger.Entry) {
	if ack.Op != "subscribe" {
		log.WithField("op", ack.Op).Debug("ignoring bybit control frame")
		return
	}
	entry := log.WithFields(logger.Fields{"req_id": ack.ReqID, "ret_msg": ack.RetMsg})
	if ack.Success {
		metrics.IncrementSubscriptions("success")
		entry.Info("bybit subscription acknowledged")
		return
	}
	metrics.IncrementSubscriptions("failure")
	entry.Warn("bybit subscription rejected")
}
