// Package cloudasr implements the cloud-ASR upload state machine: it drains
// gated capture audio into the network agent in session-bounded chunks and
// tracks the IDLE/UPLOAD/WAIT_ASR lifecycle around each utterance.
package cloudasr

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// State is a cloud-ASR state machine state.
type State int

const (
	StateIdle State = iota
	StateUpload
	StateWaitASR
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUpload:
		return "upload"
	case StateWaitASR:
		return "wait_asr"
	default:
		return "unknown"
	}
}

// Agent is the thin C11 adapter this state machine drives.
type Agent interface {
	UploadStart(newSession bool) error
	UploadData(isFirstFrame bool, data []byte) error
	UploadStop() error
	ChatInterrupt()
}

// InputSource is the gated capture buffer this state machine drains.
// internal/capture.Gate satisfies this interface directly.
type InputSource interface {
	Used() int
	Read(dst []byte) int
	Discard(n int) int
}

type eventType int

const (
	evEnterIdle eventType = iota
	evUpdateVAD
	evStart
	evUploading
	evStop
)

type event struct {
	typ            eventType
	forceInterrupt bool
}

// Config sizes the upload chunking and timers.
type Config struct {
	SampleRate      int           // samples/sec, default 16000
	BytesPerSample  int           // PCM16 mono = 2
	UploadWindow    time.Duration // scratch-chunk size, default 100ms
	VADActiveWindow time.Duration // pre-utterance backlog cap, default 600ms (300+300, resolved open question)
	WaitASRTimeout  time.Duration // default 10s
	TickTimeout     time.Duration // event-fetch timeout, default 20ms
}

// DefaultConfig matches the reference constants: 16kHz PCM16 mono, 100ms
// upload chunks, a 600ms VAD-active trim window (300ms pre-speech + 300ms
// post-speech, since the original's VAD_ACTIVE_TM_MS constant is undefined
// in the source we grounded on) and a 10s wait-ASR timeout.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		BytesPerSample:  2,
		UploadWindow:    100 * time.Millisecond,
		VADActiveWindow: 600 * time.Millisecond,
		WaitASRTimeout:  10 * time.Second,
		TickTimeout:     20 * time.Millisecond,
	}
}

func (c Config) bytesFor(d time.Duration) int {
	return int(d.Seconds() * float64(c.SampleRate) * float64(c.BytesPerSample))
}

// Machine is the cloud-ASR upload state machine. Zero value is not usable;
// use New.
type Machine struct {
	cfg   Config
	agent Agent
	input InputSource

	mu           sync.Mutex
	state        State
	isFirstFrame bool
	waitTimer    *time.Timer

	uploading atomic.Bool

	events chan event
	done   chan struct{}
}

// New creates a Machine and starts its worker goroutine.
func New(cfg Config, agent Agent, input InputSource) *Machine {
	m := &Machine{
		cfg:    cfg,
		agent:  agent,
		input:  input,
		state:  StateIdle,
		events: make(chan event, 8),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Close stops the worker goroutine.
func (m *Machine) Close() {
	close(m.done)
}

// State returns the current state machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsUploading reports whether the upload latch is currently set.
func (m *Machine) IsUploading() bool {
	return m.uploading.Load()
}

// Start posts START: begin a new upload session.
func (m *Machine) Start() {
	m.post(event{typ: evStart})
}

// Stop posts STOP: drain and finalize the current upload session.
func (m *Machine) Stop() {
	m.post(event{typ: evStop})
}

// SetIdle posts ENTER_IDLE, optionally with a force-interrupt flag. Calling
// this on an already-idle machine is a no-op in effect — the handler always
// re-applies the idle transition, which changes nothing when already idle —
// mirroring the reference implementation's early-return-as-success behavior
// on that path.
func (m *Machine) SetIdle(forceInterrupt bool) {
	m.post(event{typ: evEnterIdle, forceInterrupt: forceInterrupt})
}

// StopWaitASR posts ENTER_IDLE only if the machine is currently WAIT_ASR.
func (m *Machine) StopWaitASR() {
	if m.State() != StateWaitASR {
		return
	}
	m.post(event{typ: evEnterIdle})
}

func (m *Machine) post(e event) {
	select {
	case m.events <- e:
	case <-m.done:
	}
}

func (m *Machine) run() {
	for {
		var e event
		select {
		case <-m.done:
			return
		case e = <-m.events:
		case <-time.After(m.cfg.TickTimeout):
			if m.uploading.Load() {
				e = event{typ: evUploading}
			} else {
				e = event{typ: evUpdateVAD}
			}
		}

		if e.forceInterrupt {
			m.agent.ChatInterrupt()
		}
		m.handle(e)
	}
}

func (m *Machine) handle(e event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.typ {
	case evEnterIdle:
		m.stopWaitTimerLocked()
		m.state = StateIdle
		m.trimLocked()

	case evUpdateVAD:
		m.trimLocked()

	case evStart:
		m.stopWaitTimerLocked()
		if err := m.agent.UploadStart(true); err != nil {
			log.Printf("[cloudasr] upload start failed: %v", err)
			m.state = StateIdle
			return
		}
		m.state = StateUpload
		m.isFirstFrame = true
		m.uploading.Store(true)

	case evUploading:
		if !m.uploading.Load() {
			return
		}
		chunk := m.cfg.bytesFor(m.cfg.UploadWindow)
		if m.input.Used() < chunk {
			// Wait for more data, no state change — the upload sub-state
			// machine's UPLOADING branch when starved.
			return
		}
		buf := make([]byte, chunk)
		n := m.input.Read(buf)
		if n == 0 {
			return
		}
		if err := m.agent.UploadData(m.isFirstFrame, buf[:n]); err != nil {
			log.Printf("[cloudasr] upload data failed: %v", err)
		}
		m.isFirstFrame = false

	case evStop:
		chunk := m.cfg.bytesFor(m.cfg.UploadWindow)
		buf := make([]byte, chunk)
		for m.input.Used() > 0 {
			if !m.uploading.Load() {
				break
			}
			n := m.input.Read(buf)
			if n == 0 {
				break
			}
			if err := m.agent.UploadData(false, buf[:n]); err != nil {
				log.Printf("[cloudasr] upload data failed during stop: %v", err)
			}
		}
		if err := m.agent.UploadStop(); err != nil {
			log.Printf("[cloudasr] upload stop failed: %v", err)
		}
		m.startWaitTimerLocked()
		m.state = StateWaitASR
		m.uploading.Store(false)
	}
}

// trimLocked retains only VADActiveWindow worth of backlog, preventing
// unbounded pre-utterance buffering. Caller holds m.mu.
func (m *Machine) trimLocked() {
	maxBytes := m.cfg.bytesFor(m.cfg.VADActiveWindow)
	used := m.input.Used()
	if used > maxBytes {
		m.input.Discard(used - maxBytes)
	}
}

func (m *Machine) startWaitTimerLocked() {
	m.stopWaitTimerLocked()
	m.waitTimer = time.AfterFunc(m.cfg.WaitASRTimeout, func() {
		log.Printf("[cloudasr] wait asr timeout")
		m.post(event{typ: evEnterIdle})
	})
}

func (m *Machine) stopWaitTimerLocked() {
	if m.waitTimer != nil {
		m.waitTimer.Stop()
		m.waitTimer = nil
	}
}
