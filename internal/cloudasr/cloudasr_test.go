package cloudasr

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu           sync.Mutex
	startCalls   int
	startErr     error
	dataCalls    []fakeUpload
	stopCalls    int
	stopErr      error
	interrupts   int
}

type fakeUpload struct {
	isFirst bool
	data    []byte
}

func (a *fakeAgent) UploadStart(newSession bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startCalls++
	return a.startErr
}

func (a *fakeAgent) UploadData(isFirstFrame bool, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	a.dataCalls = append(a.dataCalls, fakeUpload{isFirst: isFirstFrame, data: cp})
	return nil
}

func (a *fakeAgent) UploadStop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopCalls++
	return a.stopErr
}

func (a *fakeAgent) ChatInterrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interrupts++
}

func (a *fakeAgent) snapshot() (starts, stops, interrupts int, data []fakeUpload) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startCalls, a.stopCalls, a.interrupts, append([]fakeUpload(nil), a.dataCalls...)
}

// fakeInput is a simple unbounded byte source satisfying InputSource.
type fakeInput struct {
	mu  sync.Mutex
	buf []byte
}

func (f *fakeInput) push(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, data...)
}

func (f *fakeInput) Used() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

func (f *fakeInput) Read(dst []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(dst, f.buf)
	f.buf = f.buf[n:]
	return n
}

func (f *fakeInput) Discard(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.buf) {
		n = len(f.buf)
	}
	f.buf = f.buf[n:]
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickTimeout = 2 * time.Millisecond
	cfg.UploadWindow = 10 * time.Millisecond // small chunk for fast tests
	cfg.WaitASRTimeout = 30 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestStartEntersUploadAndBeginsUploading(t *testing.T) {
	agent := &fakeAgent{}
	input := &fakeInput{}
	m := New(testConfig(), agent, input)
	defer m.Close()

	m.Start()
	waitFor(t, func() bool { return m.State() == StateUpload })
	require.True(t, m.IsUploading())

	chunkBytes := testConfig().bytesFor(testConfig().UploadWindow)
	input.push(bytes.Repeat([]byte{0xAB}, chunkBytes))

	waitFor(t, func() bool {
		_, _, _, data := agent.snapshot()
		return len(data) > 0
	})
	_, _, _, data := agent.snapshot()
	require.True(t, data[0].isFirst)
}

func TestUploadStartFailureFallsBackToIdle(t *testing.T) {
	agent := &fakeAgent{startErr: errors.New("boom")}
	input := &fakeInput{}
	m := New(testConfig(), agent, input)
	defer m.Close()

	m.Start()
	waitFor(t, func() bool { return m.State() == StateIdle })
	require.False(t, m.IsUploading())
}

func TestUploadingWaitsForEnoughData(t *testing.T) {
	agent := &fakeAgent{}
	input := &fakeInput{}
	m := New(testConfig(), agent, input)
	defer m.Close()

	m.Start()
	waitFor(t, func() bool { return m.State() == StateUpload })

	// Push less than one chunk's worth — uploading must not consume it.
	input.push([]byte{1, 2, 3})
	time.Sleep(20 * time.Millisecond)
	_, _, _, data := agent.snapshot()
	require.Empty(t, data, "partial chunk should not be uploaded yet")
	require.Equal(t, 3, input.Used())
}

func TestStopDrainsRemainingBacklogThenWaitsASR(t *testing.T) {
	agent := &fakeAgent{}
	input := &fakeInput{}
	cfg := testConfig()
	m := New(cfg, agent, input)
	defer m.Close()

	m.Start()
	waitFor(t, func() bool { return m.State() == StateUpload })

	chunkBytes := cfg.bytesFor(cfg.UploadWindow)
	input.push(bytes.Repeat([]byte{0x01}, chunkBytes*3))

	m.Stop()
	waitFor(t, func() bool { return m.State() == StateWaitASR })

	require.Equal(t, 0, input.Used(), "STOP must drain the entire remaining backlog")
	require.False(t, m.IsUploading())
	starts, stops, _, _ := agent.snapshot()
	require.Equal(t, 1, starts)
	require.Equal(t, 1, stops)
}

func TestWaitASRTimeoutReturnsToIdle(t *testing.T) {
	agent := &fakeAgent{}
	input := &fakeInput{}
	cfg := testConfig()
	m := New(cfg, agent, input)
	defer m.Close()

	m.Start()
	waitFor(t, func() bool { return m.State() == StateUpload })
	m.Stop()
	waitFor(t, func() bool { return m.State() == StateWaitASR })

	waitFor(t, func() bool { return m.State() == StateIdle })
}

func TestSetIdleOnIdleMachineIsNoOp(t *testing.T) {
	agent := &fakeAgent{}
	input := &fakeInput{}
	m := New(testConfig(), agent, input)
	defer m.Close()

	require.Equal(t, StateIdle, m.State())
	m.SetIdle(false)
	waitFor(t, func() bool { return m.State() == StateIdle })
	_, _, interrupts, _ := agent.snapshot()
	require.Equal(t, 0, interrupts)
}

func TestStopWaitASRIgnoredOutsideWaitState(t *testing.T) {
	agent := &fakeAgent{}
	input := &fakeInput{}
	m := New(testConfig(), agent, input)
	defer m.Close()

	m.StopWaitASR()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateIdle, m.State())
}

func TestUpdateVADTrimsBacklogToWindow(t *testing.T) {
	agent := &fakeAgent{}
	input := &fakeInput{}
	cfg := testConfig()
	m := New(cfg, agent, input)
	defer m.Close()

	maxBytes := cfg.bytesFor(cfg.VADActiveWindow)
	input.push(bytes.Repeat([]byte{0x02}, maxBytes*2))

	waitFor(t, func() bool { return input.Used() <= maxBytes })
}
