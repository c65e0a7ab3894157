package capture

import (
	"errors"
	"sync"
)

// FakeDevice replays fixed sample blocks. Start delivers every block synchronously,
// which keeps adapter tests deterministic without audio hardware.
type FakeDevice struct {
	Blocks [][]float32
	Err    error

	mu      sync.Mutex
	configs []Config
	held    int
	maxHeld int
	opened  int
}

func NewFakeDevice(blocks ...[]float32) *FakeDevice {
	return &FakeDevice{Blocks: blocks}
}

func (f *FakeDevice) NewCapture(cfg Config) (Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.configs = append(f.configs, cfg)
	f.opened++
	f.held++
	if f.held > f.maxHeld {
		f.maxHeld = f.held
	}
	return &fakeCapture{device: f}, nil
}

// Held is the number of captures currently holding the microphone.
func (f *FakeDevice) Held() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

// MaxHeld is the highest number of captures that held the microphone at once.
func (f *FakeDevice) MaxHeld() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxHeld
}

func (f *FakeDevice) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *FakeDevice) Configs() []Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Config(nil), f.configs...)
}

func (f *FakeDevice) release() {
	f.mu.Lock()
	f.held--
	f.mu.Unlock()
}

type fakeCapture struct {
	device  *FakeDevice
	started bool
	stopped bool
	closed  bool
}

func (c *fakeCapture) Start(cb SampleCallback) error {
	if c.closed {
		return errors.New("capture closed")
	}
	c.started = true
	for _, block := range c.device.Blocks {
		cb(append([]float32(nil), block...))
	}
	return nil
}

func (c *fakeCapture) Stop() { c.stopped = true }

func (c *fakeCapture) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.device.release()
}
