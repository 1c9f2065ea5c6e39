package wsclient

import (
	"testing"
	"time"
)

func TestHeartbeatIntervalsUseDefaultsWhenUnset(t *testing.T) {
	ping, pong := heartbeatIntervals(0)
	if ping != defaultPingInterval || pong != defaultPongTimeout {
		t.Errorf("got ping=%v pong=%v, want defaults", ping, pong)
	}
}

func TestHeartbeatIntervalsDeriveFromKeepAlive(t *testing.T) {
	// keep_alive = 1s: 85% = 850ms (below default 5s, so used);
	// 2x = 2s (below default 16s, so default 16s wins).
	ping, pong := heartbeatIntervals(1 * time.Second)
	if ping != 850*time.Millisecond {
		t.Errorf("ping = %v, want 850ms", ping)
	}
	if pong != defaultPongTimeout {
		t.Errorf("pong = %v, want default %v", pong, defaultPongTimeout)
	}
}

func TestHeartbeatIntervalsLargeKeepAliveOverridesDefaults(t *testing.T) {
	// keep_alive = 60s: 85% = 51s (> default 5s, so default 5s wins);
	// 2x = 120s (> default 16s, so 120s wins).
	ping, pong := heartbeatIntervals(60 * time.Second)
	if ping != defaultPingInterval {
		t.Errorf("ping = %v, want default %v", ping, defaultPingInterval)
	}
	if pong != 120*time.Second {
		t.Errorf("pong = %v, want 120s", pong)
	}
}

func TestPingTickerFires(t *testing.T) {
	h := newHeartbeat(0)
	h.pingInterval = 5 * time.Millisecond
	h.startPing()
	defer h.stopAll()

	select {
	case <-h.pingCh:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected ping tick")
	}
}

func TestPongWatchdogFiresOnTimeout(t *testing.T) {
	h := newHeartbeat(0)
	h.pongTimeout = 5 * time.Millisecond
	h.startPong()
	defer h.stopAll()

	select {
	case <-h.pongCh:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected pong timeout to fire")
	}
}

func TestPongWatchdogCanBeDisarmed(t *testing.T) {
	h := newHeartbeat(0)
	h.pongTimeout = 20 * time.Millisecond
	h.startPong()
	h.stopPong()

	select {
	case <-h.pongCh:
		t.Fatalf("pong watchdog fired after being stopped")
	case <-time.After(50 * time.Millisecond):
	}
}
