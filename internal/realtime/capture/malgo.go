package capture

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoDevice captures from the default system input through miniaudio.
type MalgoDevice struct {
	ctx *malgo.AllocatedContext
}

func NewMalgoDevice() (*MalgoDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &MalgoDevice{ctx: ctx}, nil
}

func (m *MalgoDevice) NewCapture(cfg Config) (Capture, error) {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = cfg.Channels
	deviceConfig.SampleRate = cfg.SampleRate
	deviceConfig.PeriodSizeInFrames = cfg.PeriodFrames

	c := &malgoCapture{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.mu.Lock()
			cb := c.cb
			c.mu.Unlock()
			if cb != nil {
				cb(DecodeFloat32(input))
			}
		},
	}
	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	c.device = dev
	return c, nil
}

func (m *MalgoDevice) Close() {
	_ = m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device *malgo.Device

	mu sync.Mutex
	cb SampleCallback
}

func (c *malgoCapture) Start(cb SampleCallback) error {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	_ = c.device.Stop()
	c.mu.Lock()
	c.cb = nil
	c.mu.Unlock()
}

func (c *malgoCapture) Close() {
	c.device.Uninit()
}
