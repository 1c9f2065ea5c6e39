package driver

import (
	"encoding/binary"
	"testing"
)

func TestInt16ToLERoundTrips(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768}
	raw := int16ToLE(pcm)
	if len(raw) != len(pcm)*2 {
		t.Fatalf("len(raw) = %d, want %d", len(raw), len(pcm)*2)
	}
	for i, want := range pcm {
		got := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		if got != want {
			t.Errorf("sample %d = %d, want %d", i, got, want)
		}
	}
}

func TestPlayRejectedWhenNotOpen(t *testing.T) {
	d := New(FrameFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, -1, -1)
	if err := d.Play(make([]byte, 320)); err == nil {
		t.Errorf("expected error playing before Open")
	}
}

func TestConfigureSetVolumeClamps(t *testing.T) {
	d := New(FrameFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, -1, -1)
	if err := d.Configure(CmdSetVolume, 500); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := d.volume.Load(); got != 100 {
		t.Errorf("volume = %d, want clamped 100", got)
	}

	if err := d.Configure(CmdSetVolume, -10); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := d.volume.Load(); got != 0 {
		t.Errorf("volume = %d, want clamped 0", got)
	}
}

func TestConfigurePlayStopClearsQueuedSamplesBeforeOpen(t *testing.T) {
	d := New(FrameFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, -1, -1)
	if _, err := d.playback.Write(make([]byte, 640)); err != nil {
		t.Fatalf("seed playback buffer: %v", err)
	}
	if err := d.Configure(CmdPlayStop, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if d.playback.Used() != 0 {
		t.Errorf("playback buffer used = %d, want 0 after PlayStop", d.playback.Used())
	}
}

func TestConfigureUnknownCommandErrors(t *testing.T) {
	d := New(FrameFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, -1, -1)
	if err := d.Configure(Command(99), 0); err == nil {
		t.Errorf("expected error for unknown command")
	}
}
