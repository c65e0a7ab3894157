package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/audio"
	"github.com/artwise/artwise/internal/billing"
	"github.com/artwise/artwise/internal/config"
	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime/capture"
	"github.com/artwise/artwise/internal/realtime/protocol"
	"github.com/artwise/artwise/internal/realtime/session"
	"github.com/artwise/artwise/internal/realtime/transport"
)

const (
	ModeText = "text"
	ModeLive = capture.ModeLive
	ModePTT  = capture.ModePushToTalk
)

// Client is a realtime conversation client wired against the backend.
type Client struct {
	Controller *session.Controller
	Hook       *billing.UsageHook
	Metrics    *observability.Metrics
	Config     protocol.SessionConfig
	Mode       string

	device     capture.Device
	logger     zerolog.Logger
	detach     func()
	close      func()
	recorder   *audio.Recorder
	recordPath string
}

// BuildClient resolves the session config, transport and capture device for mode.
// Text mode never opens an audio device.
func BuildClient(cfg config.Config, logger zerolog.Logger, userID, mode string) (*Client, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModePTT
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	sc, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}
	usage := billing.UsageLiveAudioConversation

	var (
		device   capture.Device
		closeDev = func() {}
	)
	switch mode {
	case ModeText:
		sc.Modalities = []protocol.Modality{protocol.ModalityText}
		sc.TurnDetection = nil
		usage = billing.UsageTextConversation
	case ModeLive, ModePTT:
		if mode == ModePTT && sc.ServerVAD() {
			// Push-to-talk commits turns itself.
			sc.TurnDetection = &protocol.TurnDetection{Type: protocol.TurnDetectionNone}
		}
		d, err := capture.NewMalgoDevice()
		if err != nil {
			return nil, fmt.Errorf("audio capture init failed: %w", err)
		}
		device = d
		closeDev = d.Close
	default:
		return nil, fmt.Errorf("invalid mode %q (expected %s|%s|%s)", mode, ModePTT, ModeLive, ModeText)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace + "_client")
	negotiator, err := transport.NewNegotiator(transport.NegotiatorConfig{
		BackendURL: cfg.BackendURL,
		Kind:       cfg.RealtimeTransport,
		ICEServers: cfg.ICEServers,
		Timeout:    cfg.NegotiateTimeout,
		Logger:     observability.Component(logger, "transport"),
		Metrics:    metrics,
	})
	if err != nil {
		closeDev()
		return nil, err
	}

	controller := session.NewController(userID, negotiator,
		session.WithLogger(observability.Component(logger, "session")),
		session.WithMetrics(metrics),
	)
	hook := billing.NewUsageHook(
		billing.NewRemoteLedger(cfg.BackendURL, nil),
		billing.WithUsageType(usage),
		billing.WithHookLogger(observability.Component(logger, "billing")),
		billing.WithHookMetrics(metrics),
	)

	return &Client{
		Controller: controller,
		Hook:       hook,
		Metrics:    metrics,
		Config:     sc,
		Mode:       mode,
		device:     device,
		logger:     logger,
		detach:     hook.Attach(controller.Bus()),
		close:      closeDev,
	}, nil
}

// Adapter returns a fresh capture adapter for mode. Text mode has no device.
func (c *Client) Adapter(mode string) (capture.Adapter, error) {
	if c.device == nil {
		return nil, fmt.Errorf("no audio device in %s mode", c.Mode)
	}
	switch mode {
	case ModeLive:
		return capture.NewLive(c.device, observability.Component(c.logger, "capture")), nil
	case ModePTT:
		return capture.NewPushToTalk(c.device, capture.WithPushToTalkLogger(observability.Component(c.logger, "capture"))), nil
	default:
		return nil, fmt.Errorf("invalid capture mode %q", mode)
	}
}

// Record keeps a copy of everything the microphone captures from now on and writes it as
// WAV to path on Close.
func (c *Client) Record(path string) error {
	if c.device == nil {
		return fmt.Errorf("no audio device in %s mode", c.Mode)
	}
	rec := audio.NewRecorder(0)
	c.device = capture.NewTap(c.device, func(cfg capture.Config, samples []float32) {
		rec.Append(int(cfg.SampleRate), capture.EncodePCM16(capture.Mono(samples, cfg.Channels)))
	})
	c.recorder = rec
	c.recordPath = path
	return nil
}

// Close ends the session, flushes pending usage reports and releases the audio device.
func (c *Client) Close() error {
	c.Controller.Disconnect()
	c.detach()
	err := c.Hook.Close()
	c.close()
	if c.recorder != nil {
		n, rate, skipped := c.recorder.Stats()
		if werr := c.recorder.WriteFile(c.recordPath); werr != nil && !errors.Is(werr, audio.ErrEmptyRecording) {
			err = errors.Join(err, fmt.Errorf("write recording: %w", werr))
		} else if werr == nil {
			c.logger.Info().
				Str("path", c.recordPath).
				Int("bytes", n).
				Int("sample_rate", rate).
				Int("skipped_blocks", skipped).
				Msg("recording saved")
		}
	}
	return err
}
