// Package assistant wires the capture gate, player, cloud-ASR state
// machine, WebSocket client, and agent adapter into a single runtime
// orchestrator, replacing the desktop-bound wiring the teacher client did
// in its application layer with a headless goroutine/channel composition.
package assistant

import (
	"fmt"
	"log"

	"voiceassistant/internal/agent"
	"voiceassistant/internal/capture"
	"voiceassistant/internal/cloudasr"
	"voiceassistant/internal/driver"
	"voiceassistant/internal/metrics"
	"voiceassistant/internal/player"
	"voiceassistant/internal/runtimeconfig"
	"voiceassistant/internal/wsclient"
)

// driverSink adapts a driver.Driver to player.Sink, and also forwards every
// played chunk to the capture gate as the AEC far-end reference.
type driverSink struct {
	drv  driver.Driver
	gate *capture.Gate
}

func (s *driverSink) Put(pcm []byte) error {
	if s.gate != nil {
		s.gate.FeedPlayback(pcm16LEToFloat32(pcm))
	}
	return s.drv.Play(pcm)
}

func (s *driverSink) Clear() {
	s.drv.Configure(driver.CmdPlayStop, 0)
}

func pcm16LEToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Assistant owns one instance each of the core pipeline components and
// their cross-wiring.
type Assistant struct {
	cfg runtimeconfig.Config
	drv driver.Driver

	gate    *capture.Gate
	ply     *player.Player
	alerts  *player.AlertPlayer
	asr     *cloudasr.Machine
	ws      *wsclient.Client
	adapter *agent.Adapter
	mx      *metrics.Metrics
}

// Callbacks surfaces UI-facing events from the agent adapter.
type Callbacks = agent.Callbacks

// New constructs every component and wires their callbacks, but starts
// nothing. alertAssets supplies MP3-backed alert sounds; alerts without an
// entry fall back to synthesized tones (see internal/player/alert.go).
func New(cfg runtimeconfig.Config, drv driver.Driver, alertAssets map[player.Alert][]byte, cb Callbacks, mx *metrics.Metrics) (*Assistant, error) {
	a := &Assistant{cfg: cfg, drv: drv, mx: mx}

	sink := &driverSink{drv: drv}
	a.ply = player.New(sink)
	a.alerts = player.NewAlertPlayer(a.ply, sink, alertAssets)

	captureCfg := capture.DefaultConfig()
	captureCfg.SampleRate = cfg.SampleRate
	captureCfg.WakeMethod = workModeToWakeMethod(cfg.WorkMode)

	gate, err := capture.New(captureCfg, a.onCaptureEvent)
	if err != nil {
		return nil, fmt.Errorf("assistant: capture.New: %w", err)
	}
	a.gate = gate
	gate.SetPlayingFunc(a.ply.IsPlaying)
	sink.gate = gate

	wsCfg := wsclient.Config{
		URL:           cfg.WebSocketURI,
		TLSMode:       wsclient.TLSModeSystemCA,
		KeepAlive:     cfg.KeepAliveTime,
		ReconnectWait: cfg.ReconnectWaitTime,
		DialTimeout:   cfg.HandshakeConnTimeout,
	}
	// a.adapter is filled in below; these closures are only invoked once
	// Start runs the client, by which time a.adapter is set, so they call it
	// without a nil check.
	ws, err := wsclient.New(wsCfg, wsclient.Callbacks{
		OnConnected:    a.onWSConnected,
		OnDisconnected: a.onWSDisconnected,
		OnText:         func(data []byte) { a.adapter.OnText(data) },
		OnBinary:       func(data []byte) { a.adapter.OnBinary(data) },
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: wsclient.New: %w", err)
	}
	a.ws = ws

	asrCfg := cloudasr.DefaultConfig()
	asrCfg.SampleRate = cfg.SampleRate

	a.adapter = agent.New(ws, a.ply, nil, cb)
	a.asr = cloudasr.New(asrCfg, a.adapter, gate)
	a.adapter.SetWaiter(a.asr)

	if err := drv.Open(a.onCapturedFrame); err != nil {
		return nil, fmt.Errorf("assistant: driver.Open: %w", err)
	}
	drv.Configure(driver.CmdSetVolume, cfg.SpkVolume)

	return a, nil
}

// Start begins the WebSocket client's connect/receive loop. The player and
// cloud-ASR workers start as part of New, and the capture gate has no worker
// of its own (it runs inside the driver callback), so only the network side
// needs an explicit Start.
func (a *Assistant) Start() {
	a.ws.Start()
}

// Close tears every component down.
func (a *Assistant) Close() {
	a.ws.Destroy()
	a.asr.Close()
	a.ply.Close()
	a.drv.Close()
}

// PlayAlert fires a built-in alert sound.
func (a *Assistant) PlayAlert(alert player.Alert) {
	a.alerts.Play(alert)
}

// SetVolume updates playback volume (0-100) and persists it.
func (a *Assistant) SetVolume(v int) error {
	a.drv.Configure(driver.CmdSetVolume, v)
	return runtimeconfig.SaveVolume(v)
}

func (a *Assistant) onCapturedFrame(format driver.FrameFormat, status driver.FrameStatus, data []byte) {
	samples := bytesToInt16(data)
	a.gate.Feed(samples)
}

func (a *Assistant) onCaptureEvent(e capture.Event) {
	switch e {
	case capture.EventValidVoiceStart, capture.EventASRWakeupWord:
		a.asr.Start()
	case capture.EventValidVoiceStop, capture.EventASRWakeupStop:
		a.asr.Stop()
	}
}

func (a *Assistant) onWSConnected() {
	log.Printf("[assistant] connected")
	if a.mx != nil {
		a.mx.ConnectionState.Set(1)
	}
}

func (a *Assistant) onWSDisconnected() {
	log.Printf("[assistant] disconnected")
	if a.mx != nil {
		a.mx.ConnectionState.Set(0)
		a.mx.ReconnectFails.Inc()
	}
	a.asr.SetIdle(true)
}

func bytesToInt16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}

func workModeToWakeMethod(m runtimeconfig.WorkMode) capture.WakeMethod {
	switch m {
	case runtimeconfig.WorkModeManualSingleTalk:
		return capture.WakeManual
	case runtimeconfig.WorkModeVADFreeTalk:
		return capture.WakeVAD
	default:
		return capture.WakeASRWord
	}
}
