// Package capture implements the microphone capture gate: it wires the
// acoustic echo canceller, noise gate, voice activity detector and AGC into
// a single per-frame pipeline, tracks the wake state machine, and appends
// gated audio to an input ring buffer for upload.
package capture

import (
	"errors"
	"sync"
	"time"

	"voiceassistant/internal/aec"
	"voiceassistant/internal/agc"
	"voiceassistant/internal/noisegate"
	"voiceassistant/internal/ringbuf"
	"voiceassistant/internal/vad"
)

// WakeMethod selects how the AWAKE state is derived.
type WakeMethod int

const (
	// WakeManual means the caller drives the state directly via SetManualAwake.
	WakeManual WakeMethod = iota
	// WakeVAD derives AWAKE from voice activity alone.
	WakeVAD
	// WakeASRWord derives AWAKE from wake-word matches, with a post-wake
	// silence timeout returning to DETECTING.
	WakeASRWord
)

// State is a capture gate wake state.
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateAwake
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateAwake:
		return "awake"
	default:
		return "unknown"
	}
}

// Event is an edge event derived from a wake-state transition.
type Event int

const (
	EventValidVoiceStart Event = iota
	EventValidVoiceStop
	EventASRWakeupWord
	EventASRWakeupStop
)

// WakeWordDetector reports whether a frame matches the configured wake word.
// Implementations are expected to keep their own rolling audio context.
type WakeWordDetector interface {
	Feed(frame []float32) (matched bool)
}

// ErrInvalidConfig is returned by New when the configuration cannot size a
// working pipeline.
var ErrInvalidConfig = errors.New("capture: invalid config")

// Config configures a capture Gate.
type Config struct {
	SampleRate      int           // samples/sec, default 16000
	FrameSamples    int           // samples per captured frame, default 160 (10ms @ 16kHz)
	RingSeconds     float64       // ring buffer capacity in seconds of audio, default 10
	WakeMethod      WakeMethod    // default WakeVAD
	PostWakeTimeout time.Duration // ASR-wake-word only: silence before DETECTING, default 800ms
	AECEnabled      bool          // default true
}

// DefaultConfig returns the reference configuration: 16kHz mono, 10ms
// frames, a 10 second ring buffer, VAD-driven wake detection.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		FrameSamples:    160,
		RingSeconds:     10,
		WakeMethod:      WakeVAD,
		PostWakeTimeout: 800 * time.Millisecond,
		AECEnabled:      true,
	}
}

// Gate is the capture pipeline: AEC -> noise gate -> VAD/RMS -> AGC -> ring
// buffer, plus the wake-state machine. Zero value is not usable; use New.
type Gate struct {
	mu sync.Mutex

	cfg        Config
	enabled    bool
	aecEnabled bool
	wakeMethod WakeMethod

	aec   *aec.AEC
	gate  *noisegate.Gate
	vad   *vad.VAD
	agc   *agc.AGC
	ring  *ringbuf.Buffer

	state            State
	manualAwake      bool
	wakeWordDetector WakeWordDetector
	postWakeDeadline time.Time
	postWakeArmed    bool

	isPlaying func() bool
	eventCb   func(Event)

	scratchF32 []float32
	scratchPCM []byte
}

// New creates a capture Gate. eventCb, if non-nil, is invoked synchronously
// from Feed whenever a wake-state transition produces an edge event.
func New(cfg Config, eventCb func(Event)) (*Gate, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSamples <= 0 || cfg.RingSeconds <= 0 {
		return nil, ErrInvalidConfig
	}

	bytesPerSample := 2 // PCM16
	ringCapacity := int(float64(cfg.SampleRate)*cfg.RingSeconds) * bytesPerSample

	g := &Gate{
		cfg:        cfg,
		enabled:    true,
		aecEnabled: cfg.AECEnabled,
		wakeMethod: cfg.WakeMethod,
		aec:        aec.New(cfg.FrameSamples),
		gate:       noisegate.New(),
		vad:        vad.New(),
		agc:        agc.New(),
		ring:       ringbuf.New(ringCapacity),
		state:      StateIdle,
		eventCb:    eventCb,
		scratchF32: make([]float32, cfg.FrameSamples),
		scratchPCM: make([]byte, cfg.FrameSamples*bytesPerSample),
	}
	g.aec.SetEnabled(cfg.AECEnabled)
	return g, nil
}

// SetEnabled enables or disables the whole gate. A disabled gate drops every
// captured frame without running the pipeline or the state machine.
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
}

// SetAECEnabled toggles echo cancellation. When disabled and the player is
// reported playing, Feed drops frames to avoid self-listening.
func (g *Gate) SetAECEnabled(enabled bool) {
	g.mu.Lock()
	g.aecEnabled = enabled
	g.aec.SetEnabled(enabled)
	g.mu.Unlock()
}

// SetPlayingFunc installs the callback used to query whether the player is
// currently producing output audio.
func (g *Gate) SetPlayingFunc(f func() bool) {
	g.mu.Lock()
	g.isPlaying = f
	g.mu.Unlock()
}

// SetWakeMethod switches how AWAKE is derived.
func (g *Gate) SetWakeMethod(m WakeMethod) {
	g.mu.Lock()
	g.wakeMethod = m
	g.mu.Unlock()
}

// SetWakeWordDetector installs the detector used when the wake method is
// WakeASRWord.
func (g *Gate) SetWakeWordDetector(d WakeWordDetector) {
	g.mu.Lock()
	g.wakeWordDetector = d
	g.mu.Unlock()
}

// SetManualAwake drives the AWAKE/IDLE state directly when the wake
// method is WakeManual. It is ignored under other wake methods.
func (g *Gate) SetManualAwake(awake bool) {
	g.mu.Lock()
	g.manualAwake = awake
	g.mu.Unlock()
}

// State returns the current wake state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// FeedPlayback supplies the current playback output as the AEC far-end
// reference. Call this from the player's output path, independently of Feed.
func (g *Gate) FeedPlayback(frame []float32) {
	g.aec.FeedFarEnd(frame)
}

// Feed is the driver callback: it runs one PCM16 mono frame through the
// capture pipeline, updates the wake state machine, and appends gated audio
// to the input ring buffer. Safe for concurrent use, though in practice it
// is invoked from a single audio-driver callback context.
func (g *Gate) Feed(frame []int16) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return
	}

	playing := g.isPlaying != nil && g.isPlaying()
	if !g.aecEnabled && playing {
		g.vad.Reset()
		g.recomputeStateLocked(false, false)
		return
	}

	f32 := g.scratchF32
	for i, s := range frame {
		f32[i] = float32(s) / 32768.0
	}

	// Pipeline order: AEC -> noise gate -> VAD/RMS -> AGC -> ring buffer.
	if g.aecEnabled {
		g.aec.Process(f32)
	}
	g.gate.Process(f32)
	rms := vad.RMS(f32)
	isSpeech := g.vad.ShouldSend(rms)
	g.agc.Process(f32)

	wakeMatch := false
	if g.wakeMethod == WakeASRWord && g.wakeWordDetector != nil {
		wakeMatch = g.wakeWordDetector.Feed(f32)
	}

	g.recomputeStateLocked(isSpeech, wakeMatch)

	pcm := g.scratchPCM
	for i, s := range f32 {
		pcm[2*i], pcm[2*i+1] = int16ToLE(s)
	}
	// Driver overflow (ring full) is silently dropped.
	g.ring.Write(pcm)
}

// recomputeStateLocked updates g.state from the current wake method and the
// per-frame classification, emitting edge events. Caller holds g.mu.
func (g *Gate) recomputeStateLocked(isSpeech, wakeMatch bool) {
	last := g.state

	switch g.wakeMethod {
	case WakeManual:
		if g.manualAwake {
			g.state = StateAwake
		} else {
			g.state = StateIdle
		}
	case WakeVAD:
		if isSpeech {
			g.state = StateAwake
		} else {
			g.state = StateDetecting
		}
	case WakeASRWord:
		if wakeMatch {
			g.state = StateAwake
			g.postWakeDeadline = time.Now().Add(g.cfg.PostWakeTimeout)
			g.postWakeArmed = true
			g.emit(EventASRWakeupWord)
		} else if g.state == StateAwake {
			if g.postWakeArmed && time.Now().After(g.postWakeDeadline) {
				g.state = StateDetecting
				g.postWakeArmed = false
				g.emit(EventASRWakeupStop)
			}
		}
	}

	if last != StateAwake && g.state == StateAwake {
		g.emit(EventValidVoiceStart)
	} else if last == StateAwake && g.state != StateAwake {
		g.emit(EventValidVoiceStop)
	}
}

func (g *Gate) emit(e Event) {
	if g.eventCb != nil {
		g.eventCb(e)
	}
}

// Read drains up to len(dst) bytes of gated PCM16 audio from the ring
// buffer, returning the number of bytes copied.
func (g *Gate) Read(dst []byte) int {
	return g.ring.Read(dst)
}

// Used returns the number of unread bytes currently buffered.
func (g *Gate) Used() int {
	return g.ring.Used()
}

// Discard drops up to n unread bytes from the ring buffer, used to trim
// stale pre-utterance backlog.
func (g *Gate) Discard(n int) int {
	return g.ring.Discard(n)
}

func int16ToLE(f float32) (byte, byte) {
	if f > 1.0 {
		f = 1.0
	} else if f < -1.0 {
		f = -1.0
	}
	s := int16(f * 32767)
	return byte(s), byte(s >> 8)
}
