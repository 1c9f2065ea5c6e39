package driver

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"voiceassistant/internal/ringbuf"
)

// frameSamples is the capture/playback chunk size: 10ms at the default
// 16kHz mono format this package is built around.
const frameSamples = 160

// playbackRingBytes sizes the Play() staging buffer: ~2s of 16-bit mono
// audio at 16kHz, enough to absorb bursty TTS delivery without blocking.
const playbackRingBytes = 16000 * 2 * 2

// PortAudioDriver implements Driver over github.com/gordonklaus/portaudio,
// the same capture/playback binding the teacher client used directly —
// here placed behind the Driver interface instead.
type PortAudioDriver struct {
	format         FrameFormat
	inputDeviceID  int
	outputDeviceID int

	mu             sync.Mutex
	captureStream  *portaudio.Stream
	playbackStream *portaudio.Stream
	cb             FrameCallback

	playback *ringbuf.Buffer
	volume   atomic.Uint32 // 0-100

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a PortAudioDriver for the given format and device indices.
// Pass -1 for either device to use the system default.
func New(format FrameFormat, inputDeviceID, outputDeviceID int) *PortAudioDriver {
	d := &PortAudioDriver{
		format:         format,
		inputDeviceID:  inputDeviceID,
		outputDeviceID: outputDeviceID,
		playback:       ringbuf.New(playbackRingBytes),
	}
	d.volume.Store(100)
	return d
}

// Open implements Driver.
func (d *PortAudioDriver) Open(cb FrameCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return fmt.Errorf("driver: already open")
	}
	d.cb = cb

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	inputDev, err := resolveDevice(devices, d.inputDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return err
	}
	outputDev, err := resolveDevice(devices, d.outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return err
	}

	captureBuf := make([]int16, frameSamples*d.format.Channels)
	captureStream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: d.format.Channels,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      float64(d.format.SampleRate),
		FramesPerBuffer: frameSamples,
	}, captureBuf)
	if err != nil {
		return err
	}

	playbackBuf := make([]int16, frameSamples*d.format.Channels)
	playbackStream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: d.format.Channels,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(d.format.SampleRate),
		FramesPerBuffer: frameSamples,
	}, playbackBuf)
	if err != nil {
		captureStream.Close()
		return err
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return err
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return err
	}

	d.captureStream = captureStream
	d.playbackStream = playbackStream
	d.stopCh = make(chan struct{})
	d.running.Store(true)

	d.wg.Add(2)
	go func() { defer d.wg.Done(); d.captureLoop(captureBuf) }()
	go func() { defer d.wg.Done(); d.playbackLoop(playbackBuf) }()
	return nil
}

func (d *PortAudioDriver) captureLoop(buf []int16) {
	for d.running.Load() {
		if err := d.captureStream.Read(); err != nil {
			return
		}
		if d.cb != nil {
			d.cb(d.format, StatusReceiving, int16ToLE(buf))
		}
	}
}

func (d *PortAudioDriver) playbackLoop(buf []int16) {
	raw := make([]byte, len(buf)*2)
	for d.running.Load() {
		select {
		case <-d.stopCh:
			return
		default:
		}

		n := d.playback.Read(raw)
		vol := float64(d.volume.Load()) / 100.0
		for i := range buf {
			if i*2+1 < n {
				s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
				buf[i] = int16(float64(s) * vol)
			} else {
				buf[i] = 0
			}
		}

		if err := d.playbackStream.Write(); err != nil {
			return
		}
	}
}

// Play implements Driver: it stages samples (PCM16 little-endian) into the
// playback ring buffer; playbackLoop drains frameSamples worth per tick.
// Overflow is dropped, matching the ring buffer's stop-on-overflow policy —
// a caller that floods Play faster than the device drains simply loses the
// newest audio rather than corrupting the buffer.
func (d *PortAudioDriver) Play(samples []byte) error {
	if !d.running.Load() {
		return fmt.Errorf("driver: not open")
	}
	if _, err := d.playback.Write(samples); err != nil {
		return fmt.Errorf("driver: play: %w", err)
	}
	return nil
}

// Configure implements Driver.
func (d *PortAudioDriver) Configure(cmd Command, arg int) error {
	switch cmd {
	case CmdSetVolume:
		if arg < 0 {
			arg = 0
		}
		if arg > 100 {
			arg = 100
		}
		d.volume.Store(uint32(arg))
		return nil
	case CmdPlayStop:
		d.playback.Reset()
		return nil
	default:
		return fmt.Errorf("driver: unknown command %d", cmd)
	}
}

// Close implements Driver.
func (d *PortAudioDriver) Close() error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	close(d.stopCh)

	d.mu.Lock()
	if d.captureStream != nil {
		d.captureStream.Stop()
	}
	if d.playbackStream != nil {
		d.playbackStream.Stop()
	}
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.captureStream != nil {
		if e := d.captureStream.Close(); e != nil {
			err = e
		}
		d.captureStream = nil
	}
	if d.playbackStream != nil {
		if e := d.playbackStream.Close(); e != nil {
			err = e
		}
		d.playbackStream = nil
	}
	return err
}

// resolveDevice returns the device at idx if valid, otherwise calls
// fallback — matching the teacher's own device-selection rule.
func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

func int16ToLE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
