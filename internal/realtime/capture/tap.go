package capture

// Sink receives a copy of every captured block along with the stream config it came from.
type Sink func(cfg Config, samples []float32)

// NewTap wraps dev so sink sees every block before the adapter does. The sink runs on the
// audio thread and must not block.
func NewTap(dev Device, sink Sink) Device {
	return &tapDevice{inner: dev, sink: sink}
}

type tapDevice struct {
	inner Device
	sink  Sink
}

func (d *tapDevice) NewCapture(cfg Config) (Capture, error) {
	c, err := d.inner.NewCapture(cfg)
	if err != nil {
		return nil, err
	}
	return &tapCapture{Capture: c, cfg: cfg, sink: d.sink}, nil
}

type tapCapture struct {
	Capture
	cfg  Config
	sink Sink
}

func (c *tapCapture) Start(cb SampleCallback) error {
	return c.Capture.Start(func(samples []float32) {
		c.sink(c.cfg, samples)
		cb(samples)
	})
}

// Mono returns the first channel of interleaved samples.
func Mono(samples []float32, channels uint32) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/int(channels))
	for i := range out {
		out[i] = samples[i*int(channels)]
	}
	return out
}
