// Package driver defines the audio capture/playback contract consumed by
// internal/capture and internal/player, and provides a PortAudio-backed
// implementation for local development and the CLI demo.
package driver

// FrameFormat describes the PCM format a Driver captures and plays.
type FrameFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// FrameStatus tags a captured frame delivered through FrameCallback.
// StatusReceiving is the only status the driver itself ever reports — VAD
// start/end classification belongs to the capture gate (C2), which sits
// above the driver in the orchestrator and synthesizes these richer states
// from its own Feed/Event logic for any consumer that needs them.
type FrameStatus int

const (
	StatusReceiving FrameStatus = iota
	StatusVADStart
	StatusVADEnd
	StatusFinish
)

func (s FrameStatus) String() string {
	switch s {
	case StatusReceiving:
		return "receiving"
	case StatusVADStart:
		return "vad_start"
	case StatusVADEnd:
		return "vad_end"
	case StatusFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// FrameCallback receives one captured PCM frame (raw little-endian samples
// per BitsPerSample/Channels in format) along with its status tag.
type FrameCallback func(format FrameFormat, status FrameStatus, data []byte)

// Command configures a running Driver.
type Command int

const (
	// CmdSetVolume sets playback volume; arg is a byte 0-100.
	CmdSetVolume Command = iota
	// CmdPlayStop discards any queued-but-unplayed output samples.
	CmdPlayStop
)

// Driver is the capture/playback contract. Open installs the capture
// callback and starts both directions; Play enqueues PCM16 samples for
// output; Configure adjusts volume or clears the output queue; Close
// releases all driver resources.
type Driver interface {
	Open(cb FrameCallback) error
	Play(samples []byte) error
	Configure(cmd Command, arg int) error
	Close() error
}
