// Package player implements the playback path: an MP3-to-PCM decode sink
// state machine (IDLE/START/PLAY/STOP) fed by a raw-byte ring buffer, plus
// the alert-tone player built on top of it.
package player

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"voiceassistant/internal/ringbuf"
)

// State is a player state machine state.
type State int

const (
	StateIdle State = iota
	StateStart
	StatePlay
	StateStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStart:
		return "start"
	case StatePlay:
		return "play"
	case StateStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Sink is the audio output device: decoded PCM is pushed to it in order.
type Sink interface {
	// Put writes one chunk of PCM16LE audio to the device queue.
	Put(pcm []byte) error
	// Clear flushes any buffered-but-unplayed audio from the device queue.
	Clear()
}

const (
	// rawRingSize is the capacity of the raw MP3 byte staging buffer —
	// spec requires at least 64 KiB.
	rawRingSize = 64 * 1024

	// pcmScratchSize bounds one decode pull; large enough for one full MPEG-1
	// Layer III frame of 16-bit stereo PCM (1152 × 2 × 2 = 4608 bytes).
	pcmScratchSize = 1940 * 4

	playTick       = 5 * time.Millisecond
	idleTick       = 500 * time.Millisecond
	noDataWatchdog = 5 * time.Second

	// writeBlockPoll is how often a blocked Write retries against a full
	// ring buffer.
	writeBlockPoll = 10 * time.Millisecond
)

// ErrClosed is returned by Write after the player has been closed.
var ErrClosed = errors.New("player: closed")

// errNoData is a sentinel the frameReader returns when the underlying ring
// buffer is temporarily starved but not yet at end-of-stream; go-mp3 treats
// any non-io.EOF read error as "try again", matching the spec's "arm the
// no-data watchdog and keep polling" behavior.
var errNoData = errors.New("player: no data yet")

type cmd int

const (
	cmdStart cmd = iota
	cmdStop
)

// frameReader adapts the raw ring buffer to io.Reader for the MP3 decoder.
type frameReader struct {
	raw *ringbuf.Buffer
	eof *atomic.Bool
}

func (r *frameReader) Read(p []byte) (int, error) {
	n := r.raw.Read(p)
	if n > 0 {
		return n, nil
	}
	if r.eof.Load() {
		return 0, io.EOF
	}
	return 0, errNoData
}

// Player is an MP3-decode-to-PCM sink driven by an internal state machine.
// Zero value is not usable; use New.
type Player struct {
	sink Sink

	raw    *ringbuf.Buffer
	reader *frameReader
	eof    atomic.Bool

	cmds chan cmd
	done chan struct{}

	playing atomic.Bool

	mu       sync.Mutex // guards dec, state, stopped-observed signalling
	state    State
	dec      *mp3.Decoder
	stopDone chan struct{} // closed each time STOP completes; replaced per cycle

	watchdog         *time.Timer   // fires cmdStop after watchdogDuration of starvation
	watchdogDuration time.Duration // overridable by tests; defaults to noDataWatchdog
	watchdogArmed    bool          // guarded by mu
}

// New creates a Player backed by sink. The worker goroutine is started
// immediately and runs until Close.
func New(sink Sink) *Player {
	p := &Player{
		sink:             sink,
		raw:              ringbuf.New(rawRingSize),
		cmds:             make(chan cmd, 4),
		done:             make(chan struct{}),
		state:            StateIdle,
		stopDone:         make(chan struct{}),
		watchdogDuration: noDataWatchdog,
	}
	p.reader = &frameReader{raw: p.raw, eof: &p.eof}
	close(p.stopDone) // starts "already stopped"
	p.watchdog = time.AfterFunc(p.watchdogDuration, p.onWatchdogFired)
	p.watchdog.Stop()
	go p.run()
	return p
}

// IsPlaying reports whether the decoder is actively producing PCM.
func (p *Player) IsPlaying() bool {
	return p.playing.Load()
}

// State returns the current state machine state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start posts START: the next worker tick begins a fresh decode session.
func (p *Player) Start() {
	p.eof.Store(false)
	p.raw.Reset()
	p.disarmWatchdog()
	p.mu.Lock()
	p.dec = nil
	p.stopDone = make(chan struct{})
	p.mu.Unlock()
	select {
	case p.cmds <- cmdStart:
	default:
	}
}

// Write appends raw MP3 bytes to the staging buffer, blocking the caller
// while the buffer is full. isEOF marks this as the final chunk of the
// stream; once the buffer drains, the worker transitions to STOP.
func (p *Player) Write(data []byte, isEOF bool) error {
	for len(data) > 0 {
		select {
		case <-p.done:
			return ErrClosed
		default:
		}
		n, err := p.raw.Write(data)
		if err == nil {
			data = data[n:]
			continue
		}
		time.Sleep(writeBlockPoll)
	}
	if isEOF {
		p.eof.Store(true)
	}
	return nil
}

// Stop posts STOP and blocks until the worker observes is_playing==false,
// then clears the sink's queue.
func (p *Player) Stop() {
	p.mu.Lock()
	wait := p.stopDone
	p.mu.Unlock()

	select {
	case p.cmds <- cmdStop:
	default:
	}

	select {
	case <-wait:
	case <-p.done:
	}
	p.sink.Clear()
}

// Close stops the worker goroutine permanently.
func (p *Player) Close() {
	close(p.done)
	p.watchdog.Stop()
}

func (p *Player) run() {
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		state := p.state
		p.mu.Unlock()

		switch state {
		case StateIdle, StateStop:
			select {
			case <-p.done:
				return
			case c := <-p.cmds:
				if c == cmdStart {
					p.setState(StateStart)
				}
			case <-time.After(idleTick):
			}

		case StateStart:
			p.playing.Store(true)
			p.setState(StatePlay)

		case StatePlay:
			select {
			case <-p.done:
				return
			case c := <-p.cmds:
				if c == cmdStop {
					p.setState(StateStop)
					continue
				}
			case <-time.After(playTick):
				p.tickPlay()
			}
		}
	}
}

// tickPlay runs one PLAY iteration: pull whatever decoded PCM is available,
// push it to the sink, and detect end-of-stream / starvation.
func (p *Player) tickPlay() {
	p.mu.Lock()
	gotFreshDecoder := false
	if p.dec == nil && p.raw.Used() > 0 {
		dec, err := mp3.NewDecoder(p.reader)
		if err == nil {
			p.dec = dec
			gotFreshDecoder = true
		}
		// On errNoData (not enough header bytes buffered yet) or a genuine
		// decode error, leave dec nil and retry on a later tick — this is
		// the recoverable "reset main buffer, keep going" path.
	}
	dec := p.dec
	p.mu.Unlock()

	if dec == nil {
		p.checkStarved()
		return
	}
	if gotFreshDecoder {
		p.disarmWatchdog()
	}

	buf := make([]byte, pcmScratchSize)
	n, err := dec.Read(buf)
	if n > 0 {
		p.disarmWatchdog()
		p.sink.Put(buf[:n])
	}
	if err == nil {
		return
	}

	if err == io.EOF {
		if p.raw.Used() == 0 && p.eof.Load() {
			p.finishToStop()
		}
		return
	}

	if errors.Is(err, errNoData) {
		p.checkStarved()
		return
	}

	// Genuine decode failure: drop the decoder and let the next tick
	// re-sync on fresh data.
	p.mu.Lock()
	p.dec = nil
	p.mu.Unlock()
}

// checkStarved handles a PLAY tick that produced no PCM. If the stream has
// already seen its final chunk (is_eof) and drained, it stops cleanly.
// Otherwise it arms the no-data watchdog so a stall that never delivers
// AUDIO_STOP/eof still forces the player back to IDLE.
func (p *Player) checkStarved() {
	if p.raw.Used() == 0 && p.eof.Load() {
		p.finishToStop()
		return
	}
	p.armWatchdog()
}

// armWatchdog starts the no-data watchdog if it isn't already running.
func (p *Player) armWatchdog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchdogArmed {
		return
	}
	p.watchdogArmed = true
	p.watchdog.Reset(p.watchdogDuration)
}

// disarmWatchdog stops the no-data watchdog if it's running.
func (p *Player) disarmWatchdog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.watchdogArmed {
		return
	}
	p.watchdogArmed = false
	p.watchdog.Stop()
}

// onWatchdogFired runs on the timer's own goroutine when a PLAY session has
// gone noDataWatchdog without producing PCM or reaching eof. It posts the
// same stop command the synchronous Stop() path uses.
func (p *Player) onWatchdogFired() {
	p.mu.Lock()
	p.watchdogArmed = false
	p.mu.Unlock()
	select {
	case p.cmds <- cmdStop:
	default:
	}
}

func (p *Player) finishToStop() {
	p.setState(StateStop)
}

func (p *Player) setState(s State) {
	if s == StateStop {
		p.disarmWatchdog()
	}
	p.mu.Lock()
	p.state = s
	if s == StateStop {
		p.playing.Store(false)
		p.dec = nil
		close(p.stopDone)
	}
	p.mu.Unlock()
	if s == StateStop {
		p.eof.Store(false)
	}
	if s == StateStop {
		// STOP -> IDLE immediately; watchdog/eof already reset on next Start.
		p.mu.Lock()
		p.state = StateIdle
		p.mu.Unlock()
	}
}
