package wsclient

import "time"

const (
	defaultPingInterval = 5 * time.Second
	defaultPongTimeout  = 16 * time.Second

	// pingIntervalFactor is the fraction of the user-supplied keep_alive
	// time used for the ping period.
	pingIntervalFactor = 0.85
	// pongTimeoutFactor is the multiple of keep_alive time used for the
	// pong watchdog.
	pongTimeoutFactor = 2
)

// heartbeatIntervals derives the ping period and pong timeout from a
// user-supplied keep-alive duration, falling back to the defaults when
// keepAlive is zero.
func heartbeatIntervals(keepAlive time.Duration) (pingInterval, pongTimeout time.Duration) {
	pingInterval = defaultPingInterval
	pongTimeout = defaultPongTimeout
	if keepAlive <= 0 {
		return
	}
	if d := time.Duration(float64(keepAlive) * pingIntervalFactor); d < pingInterval {
		pingInterval = d
	}
	if d := keepAlive * pongTimeoutFactor; d > pongTimeout {
		pongTimeout = d
	}
	return
}

// heartbeat tracks the cyclic ping timer and one-shot pong watchdog for a
// single client session.
type heartbeat struct {
	pingInterval time.Duration
	pongTimeout  time.Duration

	pingTicker *time.Ticker
	pongTimer  *time.Timer

	pingCh chan struct{} // fired when the ping ticker ticks
	pongCh chan struct{} // fired when the pong watchdog expires
}

func newHeartbeat(keepAlive time.Duration) *heartbeat {
	pingInterval, pongTimeout := heartbeatIntervals(keepAlive)
	return &heartbeat{
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		pingCh:       make(chan struct{}, 1),
		pongCh:       make(chan struct{}, 1),
	}
}

// startPing (re)starts the cyclic ping timer.
func (h *heartbeat) startPing() {
	h.stopPing()
	h.pingTicker = time.NewTicker(h.pingInterval)
	go func(t *time.Ticker, ch chan struct{}) {
		for range t.C {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}(h.pingTicker, h.pingCh)
}

func (h *heartbeat) stopPing() {
	if h.pingTicker != nil {
		h.pingTicker.Stop()
		h.pingTicker = nil
	}
}

// startPong (re)arms the one-shot pong watchdog. The client arms it after
// sending a PING; any received frame, not only an explicit PONG, stops it
// via stopPong.
func (h *heartbeat) startPong() {
	h.stopPong()
	h.pongTimer = time.AfterFunc(h.pongTimeout, func() {
		select {
		case h.pongCh <- struct{}{}:
		default:
		}
	})
}

func (h *heartbeat) stopPong() {
	if h.pongTimer != nil {
		h.pongTimer.Stop()
		h.pongTimer = nil
	}
}

func (h *heartbeat) stopAll() {
	h.stopPing()
	h.stopPong()
}
