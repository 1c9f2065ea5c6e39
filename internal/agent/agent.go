// Package agent adapts between the cloud-ASR upload state machine and the
// WebSocket transport: it turns upload_start/upload_data/upload_stop calls
// into frames on the wire, and turns received frames into typed callbacks
// for ASR text, streaming NLG text, emotion tags, playback audio, and
// server-initiated barge-in.
package agent

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// MessageType tags the JSON envelope exchanged over text frames.
type MessageType string

const (
	TypeTextASR      MessageType = "TEXT_ASR"
	TypeTextNLGStart MessageType = "TEXT_NLG_START"
	TypeTextNLGData  MessageType = "TEXT_NLG_DATA"
	TypeTextNLGStop  MessageType = "TEXT_NLG_STOP"
	TypeAudioStart   MessageType = "AUDIO_START"
	TypeAudioData    MessageType = "AUDIO_DATA"
	TypeAudioStop    MessageType = "AUDIO_STOP"
	TypeEmotion      MessageType = "EMOTION"
	TypeChatBreak    MessageType = "CHAT_BREAK"
	TypeServerVAD    MessageType = "SERVER_VAD"
	TypeEnd          MessageType = "END"
)

// eventIDLen is the length of a canonical UUID string (uuid.NewString()),
// used as a fixed binary-frame prefix correlating audio chunks with the
// text envelope that opened or closed their stream.
const eventIDLen = 36

// Envelope is the tagged-union JSON message carried on text frames.
// AUDIO_DATA never actually appears in an Envelope: real audio payload
// bytes travel exclusively as binary frames prefixed with EventID, since
// base64-wrapping them into JSON would defeat the point of a binary frame.
// AUDIO_START/AUDIO_STOP mark the boundaries of such a binary stream.
type Envelope struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Text    string      `json:"text,omitempty"`
	Emotion string      `json:"emotion,omitempty"`
}

// Sender is the subset of *wsclient.Client this adapter needs.
type Sender interface {
	SendText(data []byte) error
	SendBinary(data []byte) error
}

// Player is the subset of *player.Player this adapter drives on
// AUDIO_START/AUDIO_STOP and inbound audio binary frames.
type Player interface {
	Start()
	Write(data []byte, isEOF bool) error
	Stop()
	IsPlaying() bool
}

// ASRWaiter lets the adapter clear C5's WAIT_ASR state once the recognized
// text for the current utterance arrives.
type ASRWaiter interface {
	StopWaitASR()
}

// Callbacks surfaces decoded server messages to application code (e.g. a UI
// layer), beyond what the adapter handles internally (audio routing, ASR
// wait-state clearing, barge-in).
type Callbacks struct {
	OnTextASR   func(text string)
	OnNLGStart  func()
	OnNLGData   func(text string)
	OnNLGStop   func()
	OnEmotion   func(emotion string)
	OnChatBreak func()
	OnEnd       func()
}

// Adapter is the C11 agent: it implements cloudasr.Agent against a Sender,
// and exposes OnText/OnBinary for wiring into wsclient.Callbacks.
type Adapter struct {
	sender Sender
	player Player
	waiter ASRWaiter
	cb     Callbacks

	mu          sync.Mutex
	uploadID    string // current outbound (mic) event_id
	playEventID string // current inbound (playback) event_id
	isChating   bool
}

// New constructs an Adapter. waiter may be nil if no cloud-ASR machine is
// wired yet (e.g. in isolated tests).
func New(sender Sender, player Player, waiter ASRWaiter, cb Callbacks) *Adapter {
	return &Adapter{sender: sender, player: player, waiter: waiter, cb: cb}
}

// SetWaiter wires the ASRWaiter after construction, for callers that build
// the adapter and its cloud-ASR machine in a circular order (the adapter
// implements cloudasr.Agent, so the machine can't exist before the
// adapter does).
func (a *Adapter) SetWaiter(waiter ASRWaiter) {
	a.mu.Lock()
	a.waiter = waiter
	a.mu.Unlock()
}

// UploadStart implements cloudasr.Agent: it mints a fresh event_id for a new
// session and announces the start of an outbound audio stream.
func (a *Adapter) UploadStart(newSession bool) error {
	a.mu.Lock()
	if newSession || a.uploadID == "" {
		a.uploadID = uuid.NewString()
	}
	id := a.uploadID
	a.isChating = true
	a.mu.Unlock()

	env := Envelope{Type: TypeAudioStart, EventID: id}
	return a.sendEnvelope(env)
}

// UploadData implements cloudasr.Agent: it ships one chunk of mic audio as
// a binary frame prefixed with the active upload event_id.
func (a *Adapter) UploadData(isFirstFrame bool, data []byte) error {
	a.mu.Lock()
	id := a.uploadID
	a.mu.Unlock()
	if id == "" {
		return fmt.Errorf("agent: upload data with no active session")
	}

	frame := make([]byte, 0, eventIDLen+len(data))
	frame = append(frame, id...)
	frame = append(frame, data...)
	return a.sender.SendBinary(frame)
}

// UploadStop implements cloudasr.Agent: it announces the end of the
// outbound audio stream for the current event_id.
func (a *Adapter) UploadStop() error {
	a.mu.Lock()
	id := a.uploadID
	a.mu.Unlock()

	env := Envelope{Type: TypeAudioStop, EventID: id}
	return a.sendEnvelope(env)
}

// ChatInterrupt implements cloudasr.Agent: it stops any in-progress
// playback and tells the server to abandon the current dialogue turn.
func (a *Adapter) ChatInterrupt() {
	if a.player.IsPlaying() {
		a.player.Stop()
	}
	a.mu.Lock()
	a.isChating = false
	a.mu.Unlock()
	if err := a.sendEnvelope(Envelope{Type: TypeChatBreak}); err != nil {
		log.Printf("[agent] chat interrupt send failed: %v", err)
	}
}

func (a *Adapter) sendEnvelope(env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return a.sender.SendText(b)
}

// OnText decodes one text frame and dispatches it, suitable as
// wsclient.Callbacks.OnText.
func (a *Adapter) OnText(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[agent] malformed text frame: %v", err)
		return
	}

	switch env.Type {
	case TypeTextASR:
		a.mu.Lock()
		waiter := a.waiter
		a.mu.Unlock()
		if waiter != nil {
			waiter.StopWaitASR()
		}
		if a.cb.OnTextASR != nil {
			a.cb.OnTextASR(env.Text)
		}

	case TypeAudioStart:
		a.mu.Lock()
		a.playEventID = env.EventID
		a.mu.Unlock()
		if a.player.IsPlaying() {
			a.player.Stop()
		}
		a.player.Start()

	case TypeAudioStop:
		a.mu.Lock()
		match := a.playEventID == env.EventID
		a.mu.Unlock()
		if match {
			if err := a.player.Write(nil, true); err != nil {
				log.Printf("[agent] audio finalize failed: %v", err)
			}
		}

	case TypeTextNLGStart:
		if a.cb.OnNLGStart != nil {
			a.cb.OnNLGStart()
		}
	case TypeTextNLGData:
		if a.cb.OnNLGData != nil {
			a.cb.OnNLGData(env.Text)
		}
	case TypeTextNLGStop:
		if a.cb.OnNLGStop != nil {
			a.cb.OnNLGStop()
		}

	case TypeEmotion:
		if a.cb.OnEmotion != nil {
			a.cb.OnEmotion(env.Emotion)
		}

	case TypeChatBreak, TypeServerVAD:
		a.player.Stop()
		if a.cb.OnChatBreak != nil {
			a.cb.OnChatBreak()
		}

	case TypeEnd:
		a.mu.Lock()
		a.isChating = false
		a.mu.Unlock()
		if a.cb.OnEnd != nil {
			a.cb.OnEnd()
		}
	}
}

// OnBinary routes one inbound audio chunk to the player if its event_id
// prefix matches the stream opened by the last AUDIO_START, suitable as
// wsclient.Callbacks.OnBinary.
func (a *Adapter) OnBinary(data []byte) {
	if len(data) < eventIDLen {
		return
	}
	id := string(data[:eventIDLen])
	payload := data[eventIDLen:]

	a.mu.Lock()
	match := id == a.playEventID
	a.mu.Unlock()
	if !match {
		return
	}
	if err := a.player.Write(payload, false); err != nil {
		log.Printf("[agent] audio write failed: %v", err)
	}
}

// IsChating reports whether a dialogue turn is currently in flight.
func (a *Adapter) IsChating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isChating
}
