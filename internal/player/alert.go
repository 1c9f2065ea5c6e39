package player

import (
	"math"
	"sync"
	"time"
)

// Alert identifies a built-in prompt or tone.
type Alert int

const (
	AlertPowerOn Alert = iota
	AlertNotActive
	AlertNetConfig
	AlertNetConnected
	AlertNetFail
	AlertNetDisconnect
	AlertBatteryLow
	AlertPleaseAgain
	AlertWakeup
	AlertDialogue1
	AlertDialogue2
	AlertDialogue3
	AlertDialogue4
)

// sampleRate is the PCM sample rate used by synthesized alert tones; it
// must match the device output rate (16 kHz mono, per the capture/upload
// path's default).
const sampleRate = 16000

// AlertPlayer plays built-in alert prompts. Assets, where available, are
// raw MP3 bytes decoded through a Player; alerts with no natural MP3 asset
// (chimes) are synthesized PCM sine sweeps pushed straight to the sink,
// bypassing MP3 decoding entirely since they are already PCM — mirroring
// the reference notification generator's approach of producing tones
// procedurally rather than shipping an audio asset for every alert.
type AlertPlayer struct {
	mu      sync.Mutex
	player  *Player
	sink    Sink
	assets  map[Alert][]byte // MP3-encoded bytes, populated by the caller
	tones   map[Alert][]tone
	playing bool
}

type tone struct {
	freq int // Hz
	dur  int // ms
}

// NewAlertPlayer creates an AlertPlayer driving player for MP3 assets and
// sink for synthesized tones. assets maps alert identifiers to their
// encoded MP3 bytes; alerts without an entry fall back to a synthesized
// tone.
func NewAlertPlayer(player *Player, sink Sink, assets map[Alert][]byte) *AlertPlayer {
	if assets == nil {
		assets = map[Alert][]byte{}
	}
	return &AlertPlayer{
		player: player,
		sink:   sink,
		assets: assets,
		tones: map[Alert][]tone{
			AlertPowerOn:       {{523, 80}, {784, 120}, {1047, 160}},
			AlertNotActive:     {{440, 150}},
			AlertNetConfig:     {{523, 100}, {523, 100}},
			AlertNetConnected:  {{523, 80}, {784, 120}},
			AlertNetFail:       {{440, 150}, {349, 200}},
			AlertNetDisconnect: {{784, 80}, {523, 120}},
			AlertBatteryLow:    {{349, 120}, {349, 120}, {349, 120}},
			AlertPleaseAgain:   {{880, 100}},
			AlertWakeup:        {{659, 90}, {880, 130}},
		},
	}
}

// Play starts playback of alert asynchronously. MP3 assets go through
// C3.start()/C3.write(bytes, eof=true); synthesized tones are pushed to the
// sink directly since they are already PCM. Either way this runs under the
// alert mutex so overlapping alerts don't interleave.
func (a *AlertPlayer) Play(alert Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playLocked(alert)
}

// PlaySync is like Play but blocks until playback has both started and
// finished — for MP3 assets it spins on Player.IsPlaying until it observes
// true then false; for synthesized tones it blocks for the tone's own
// duration, since the sink has no is_playing signal of its own.
func (a *AlertPlayer) PlaySync(alert Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	dur := a.playLocked(alert)
	if dur > 0 {
		time.Sleep(dur)
		return
	}

	const poll = 5 * time.Millisecond
	const timeout = 30 * time.Second
	deadline := time.Now().Add(timeout)
	for !a.player.IsPlaying() {
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(poll)
	}
	for a.player.IsPlaying() {
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(poll)
	}
}

// playLocked starts the alert and returns the synthesized-tone duration if
// that path was taken (0 for MP3 assets, whose duration is unknown here).
func (a *AlertPlayer) playLocked(alert Alert) time.Duration {
	if asset, ok := a.assets[alert]; ok && len(asset) > 0 {
		a.player.Start()
		a.player.Write(asset, true)
		return 0
	}
	tones, ok := a.tones[alert]
	if !ok {
		return 0
	}
	pcm := synthesizePCM(tones)
	a.playing = true
	a.sink.Put(pcm)
	a.playing = false

	var total time.Duration
	for _, t := range tones {
		total += time.Duration(t.dur) * time.Millisecond
	}
	return total
}

// synthesizePCM renders a sequence of tones as 16-bit mono PCM at
// sampleRate, with a 5 ms linear fade-in/out on each tone to avoid clicks.
// The underlying Player only decodes MP3, so playLocked pushes this PCM to
// the AlertPlayer's own sink directly rather than through Player.Write.
func synthesizePCM(tones []tone) []byte {
	const volume = 0.18
	var out []byte
	for _, t := range tones {
		total := sampleRate * t.dur / 1000
		fade := sampleRate * 5 / 1000
		if fade > total/2 {
			fade = total / 2
		}
		for i := 0; i < total; i++ {
			tSec := float64(i) / float64(sampleRate)
			s := math.Sin(2 * math.Pi * float64(t.freq) * tSec)

			env := 1.0
			if i < fade {
				env = float64(i) / float64(fade)
			} else if i >= total-fade {
				env = float64(total-1-i) / float64(fade)
			}
			sample := int16(s * env * volume * 32767)
			out = append(out, byte(sample), byte(sample>>8))
		}
	}
	return out
}
