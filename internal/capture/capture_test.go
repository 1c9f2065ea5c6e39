package capture

import (
	"testing"
	"time"
)

func sineFrame(n int, amplitude float32) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = int16(amplitude * 32767)
		} else {
			frame[i] = int16(-amplitude * 32767)
		}
	}
	return frame
}

func silentFrame(n int) []int16 {
	return make([]int16, n)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameSamples = 0
	if _, err := New(cfg, nil); err != ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDisabledGateDropsFrames(t *testing.T) {
	g, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.SetEnabled(false)
	g.Feed(sineFrame(160, 0.5))
	if g.Used() != 0 {
		t.Errorf("disabled gate wrote %d bytes, want 0", g.Used())
	}
}

func TestSpeechEntersAwakeUnderVADMethod(t *testing.T) {
	var events []Event
	cfg := DefaultConfig()
	g, err := New(cfg, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.SetWakeMethod(WakeVAD)

	for i := 0; i < 3; i++ {
		g.Feed(sineFrame(160, 0.5))
	}
	if g.State() != StateAwake {
		t.Fatalf("state = %v, want awake", g.State())
	}

	found := false
	for _, e := range events {
		if e == EventValidVoiceStart {
			found = true
		}
	}
	if !found {
		t.Errorf("expected EventValidVoiceStart to be emitted, got %v", events)
	}
}

func TestSilenceStaysDetecting(t *testing.T) {
	g, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.Feed(silentFrame(160))
	if g.State() != StateDetecting {
		t.Errorf("state = %v, want detecting", g.State())
	}
}

func TestManualWakeMethodIgnoresVAD(t *testing.T) {
	g, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.SetWakeMethod(WakeManual)
	g.Feed(sineFrame(160, 0.8))
	if g.State() != StateIdle {
		t.Errorf("state = %v, want idle before manual wake", g.State())
	}

	g.SetManualAwake(true)
	g.Feed(silentFrame(160))
	if g.State() != StateAwake {
		t.Errorf("state = %v, want awake after manual wake", g.State())
	}
}

type fixedDetector struct{ match bool }

func (f fixedDetector) Feed(frame []float32) bool { return f.match }

func TestASRWakeWordTransitionsAndTimesOut(t *testing.T) {
	var events []Event
	cfg := DefaultConfig()
	cfg.WakeMethod = WakeASRWord
	cfg.PostWakeTimeout = 1 * time.Millisecond
	g, err := New(cfg, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.SetWakeWordDetector(fixedDetector{match: true})
	g.Feed(silentFrame(160))
	if g.State() != StateAwake {
		t.Fatalf("state = %v, want awake on wake-word match", g.State())
	}

	g.SetWakeWordDetector(fixedDetector{match: false})
	time.Sleep(5 * time.Millisecond)
	g.Feed(silentFrame(160))
	if g.State() != StateDetecting {
		t.Errorf("state = %v, want detecting after post-wake timeout", g.State())
	}

	var sawWord, sawStop bool
	for _, e := range events {
		if e == EventASRWakeupWord {
			sawWord = true
		}
		if e == EventASRWakeupStop {
			sawStop = true
		}
	}
	if !sawWord || !sawStop {
		t.Errorf("expected both wakeup-word and wakeup-stop events, got %v", events)
	}
}

func TestAECDisabledDropsDuringPlayback(t *testing.T) {
	g, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.SetAECEnabled(false)
	g.SetPlayingFunc(func() bool { return true })

	g.Feed(sineFrame(160, 0.9))
	if g.Used() != 0 {
		t.Errorf("expected frame dropped during playback with AEC off, used=%d", g.Used())
	}
}

func TestReadDrainsGatedAudio(t *testing.T) {
	g, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.Feed(sineFrame(160, 0.5))
	if g.Used() != 320 { // 160 samples * 2 bytes
		t.Fatalf("used = %d, want 320", g.Used())
	}
	dst := make([]byte, 320)
	n := g.Read(dst)
	if n != 320 {
		t.Errorf("read %d bytes, want 320", n)
	}
	if g.Used() != 0 {
		t.Errorf("used after read = %d, want 0", g.Used())
	}
}

func TestDiscardTrimsBacklog(t *testing.T) {
	g, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.Feed(sineFrame(160, 0.5))
	g.Feed(sineFrame(160, 0.5))
	before := g.Used()
	d := g.Discard(320)
	if d != 320 {
		t.Errorf("discarded %d, want 320", d)
	}
	if g.Used() != before-320 {
		t.Errorf("used = %d, want %d", g.Used(), before-320)
	}
}
