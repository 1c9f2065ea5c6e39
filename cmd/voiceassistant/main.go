// Command voiceassistant runs the always-on voice-assistant endpoint as a
// headless process: capture, wake detection, cloud-ASR upload, and TTS
// playback, all driven from a single long-lived connection to the cloud
// agent over WebSocket.
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"voiceassistant/internal/assistant"
	"voiceassistant/internal/driver"
	"voiceassistant/internal/metrics"
	"voiceassistant/internal/runtimeconfig"
)

func main() {
	fs := pflag.NewFlagSet("voiceassistant", pflag.ExitOnError)
	runtimeconfig.RegisterFlags(fs)
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus /metrics on, empty disables it")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("[main] flag parse: %v", err)
	}

	cfg, err := runtimeconfig.Load(fs)
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("[main] portaudio init: %v", err)
	}
	defer portaudio.Terminate()

	format := driver.FrameFormat{
		SampleRate:    cfg.SampleRate,
		Channels:      cfg.Channels,
		BitsPerSample: cfg.BitsPerSample,
	}
	drv := driver.New(format, cfg.InputDeviceID, cfg.OutputDeviceID)

	mx := metrics.New()
	if err := mx.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("[main] metrics register: %v", err)
	}
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	cb := assistant.Callbacks{
		OnTextASR:   func(text string) { log.Printf("[asr] %s", text) },
		OnNLGStart:  func() { log.Printf("[nlg] start") },
		OnNLGData:   func(text string) { log.Printf("[nlg] %s", text) },
		OnNLGStop:   func() { log.Printf("[nlg] stop") },
		OnEmotion:   func(emotion string) { log.Printf("[nlg] emotion=%s", emotion) },
		OnChatBreak: func() { log.Printf("[agent] barge-in") },
		OnEnd:       func() { log.Printf("[agent] turn ended") },
	}

	a, err := assistant.New(cfg, drv, nil, cb, mx)
	if err != nil {
		log.Fatalf("[main] assistant: %v", err)
	}
	a.Start()
	log.Printf("[main] voiceassistant running, work-mode=%s ws=%s", cfg.WorkMode, cfg.WebSocketURI)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("[main] shutting down")
	a.Close()
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("[main] serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[main] metrics server: %v", err)
	}
}
