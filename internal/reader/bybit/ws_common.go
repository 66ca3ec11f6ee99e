package bybit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liqstream/logger"
)

const (
	defaultReconnectDelay = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultKeepAlive      = 20 * time.Second
	defaultReadTimeout    = 35 * time.Second
	writeTimeout          = 5 * time.Second
)

type subscribeRequest struct {
	Op    string   `json:"op"`
	Args  []string `json:"args"`
	ReqID string   `json:"req_id"`
}

// subscribeBybit sends one subscribe request covering every topic.
func subscribeBybit(conn *websocket.Conn, topics []string) (string, error) {
	req := subscribeRequest{
		Op:    "subscribe",
		Args:  topics,
		ReqID: uuid.NewString(),
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return "", err
	}
	if err := conn.WriteJSON(req); err != nil {
		return "", err
	}
	return req.ReqID, conn.SetWriteDeadline(time.Time{})
}

// backoffDelay grows base by multiplier per attempt and caps it at max.
func backoffDelay(attempt int, base, max time.Duration, multiplier int) time.Duration {
	if base <= 0 {
		base = defaultReconnectDelay
	}
	if max < base {
		max = base
	}
	if multiplier < 2 {
		multiplier = 2
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= time.Duration(multiplier)
		if delay >= max || delay <= 0 {
			return max
		}
	}
	return delay
}

// waitForReconnect sleeps for delay and reports true when ctx ended first.
func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// startPingLoop pings the venue every interval. A failed ping closes the
// connection so the blocked reader returns.
func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					_ = conn.Close()
					return
				}
			}
		}
	}()
	return cancel
}
