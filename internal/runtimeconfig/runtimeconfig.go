// Package runtimeconfig loads startup configuration from defaults, an
// optional config file, environment variables, and CLI flags — in that
// order, flags winning ties — and separately manages the one runtime value
// that is meant to be mutated and persisted across restarts: speaker
// volume.
package runtimeconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	appconfig "voiceassistant/internal/config"
)

// WorkMode selects the capture gate's wake method and single/free-talk
// session shape.
type WorkMode string

const (
	WorkModeManualSingleTalk    WorkMode = "MANUAL_SINGLE_TALK"
	WorkModeVADFreeTalk         WorkMode = "VAD_FREE_TALK"
	WorkModeASRWakeupSingleTalk WorkMode = "ASR_WAKEUP_SINGLE_TALK"
	WorkModeASRWakeupFreeTalk   WorkMode = "ASR_WAKEUP_FREE_TALK"
)

func (m WorkMode) valid() bool {
	switch m {
	case WorkModeManualSingleTalk, WorkModeVADFreeTalk, WorkModeASRWakeupSingleTalk, WorkModeASRWakeupFreeTalk:
		return true
	default:
		return false
	}
}

// Config is the layered startup configuration.
type Config struct {
	WorkMode WorkMode

	SampleRate    int
	Channels      int
	BitsPerSample int

	WebSocketURI         string
	HandshakeConnTimeout time.Duration
	HandshakeRecvTimeout time.Duration
	ReconnectWaitTime    time.Duration
	KeepAliveTime        time.Duration

	// SpkVolume is loaded from the separate persisted-volume store, not
	// from the viper/flag layer; see LoadVolume/SaveVolume.
	SpkVolume int

	// InputDeviceID and OutputDeviceID select PortAudio devices by index.
	// -1 means "use the host API's default device". Deployment-time choices,
	// not persisted state.
	InputDeviceID  int
	OutputDeviceID int
}

// RegisterFlags adds the startup config's CLI flags to fs. Call before
// fs.Parse and before Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("work-mode", string(WorkModeASRWakeupFreeTalk), "capture wake method: MANUAL_SINGLE_TALK, VAD_FREE_TALK, ASR_WAKEUP_SINGLE_TALK, ASR_WAKEUP_FREE_TALK")
	fs.Int("sample-rate", 16000, "capture/playback sample rate in Hz")
	fs.Int("channels", 1, "capture channel count")
	fs.Int("bits-per-sample", 16, "capture bit depth")
	fs.String("ws-uri", "", "cloud endpoint WebSocket URI")
	fs.Duration("handshake-conn-timeout", 10*time.Second, "TCP/TLS connect timeout for the WebSocket handshake")
	fs.Duration("handshake-recv-timeout", 2*time.Second, "upgrade response read timeout")
	fs.Duration("reconnect-wait-time", 10*time.Second, "max randomized reconnect backoff")
	fs.Duration("keep-alive-time", 0, "ping/pong keep-alive seed duration (0 = package defaults)")
	fs.String("config", "", "path to a config file (json, yaml, toml, ...)")
	fs.Int("input-device", -1, "PortAudio input device index (-1 = host default)")
	fs.Int("output-device", -1, "PortAudio output device index (-1 = host default)")
}

// Load resolves Config from, in increasing precedence: built-in defaults,
// an optional config file, environment variables prefixed VOICEASSISTANT_,
// and fs's parsed flags.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VOICEASSISTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgPath, _ := fs.GetString("config"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("runtimeconfig: reading config file: %w", err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("runtimeconfig: binding flags: %w", err)
	}

	cfg := Config{
		WorkMode:             WorkMode(v.GetString("work-mode")),
		SampleRate:           v.GetInt("sample-rate"),
		Channels:             v.GetInt("channels"),
		BitsPerSample:        v.GetInt("bits-per-sample"),
		WebSocketURI:         v.GetString("ws-uri"),
		HandshakeConnTimeout: v.GetDuration("handshake-conn-timeout"),
		HandshakeRecvTimeout: v.GetDuration("handshake-recv-timeout"),
		ReconnectWaitTime:    v.GetDuration("reconnect-wait-time"),
		KeepAliveTime:        v.GetDuration("keep-alive-time"),
		InputDeviceID:        v.GetInt("input-device"),
		OutputDeviceID:       v.GetInt("output-device"),
	}

	if !cfg.WorkMode.valid() {
		return Config{}, fmt.Errorf("runtimeconfig: invalid work-mode %q", cfg.WorkMode)
	}
	if cfg.WebSocketURI == "" {
		return Config{}, fmt.Errorf("runtimeconfig: ws-uri is required")
	}

	cfg.SpkVolume = LoadVolume()
	return cfg, nil
}

// LoadVolume reads the persisted speaker volume (0-100), independent of the
// rest of startup config. Defaults come from internal/config.Default if no
// file exists yet.
func LoadVolume() int {
	return clampVolume(int(appconfig.Load().Volume * 100))
}

// SaveVolume persists v (0-100) as the speaker volume, independent of the
// rest of startup config.
func SaveVolume(v int) error {
	v = clampVolume(v)
	cfg := appconfig.Load()
	cfg.Volume = float64(v) / 100.0
	return appconfig.Save(cfg)
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
