package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/zaf/g711"

	"github.com/artwise/artwise/internal/realtime"
)

// EventsChannelLabel is the data channel the realtime endpoint reads protocol events from.
const EventsChannelLabel = "oai-events"

const pcmuSampleRate = 8000

// disconnectGrace is how long a disconnected peer connection gets to recover before the
// session is told it dropped.
const disconnectGrace = 5 * time.Second

// WebRTCDialer performs the SDP offer/answer exchange against the realtime endpoint.
type WebRTCDialer struct {
	ICEServers []string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func NewWebRTCDialer(iceServers []string, client *http.Client, logger zerolog.Logger) *WebRTCDialer {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &WebRTCDialer{ICEServers: iceServers, HTTPClient: client, Logger: logger}
}

func (d *WebRTCDialer) Dial(ctx context.Context, h Handle) (Connection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, &realtime.NegotiationError{Stage: "media engine", Err: err}
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	cfg := webrtc.Configuration{}
	if len(d.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: d.ICEServers}}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, &realtime.NegotiationError{Stage: "peer connection", Err: err}
	}

	conn := &peerConn{
		inbox:  newInbox(0),
		pc:     pc,
		opened: make(chan struct{}),
		grace:  disconnectGrace,
		logger: d.Logger,
	}
	fail := func(stage string, err error) (Connection, error) {
		conn.inbox.shutdown(nil)
		_ = pc.Close()
		return nil, &realtime.NegotiationError{Stage: stage, Err: err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuSampleRate, Channels: 1},
		"audio", "artwise",
	)
	if err != nil {
		return fail("audio track", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fail("audio track", err)
	}
	conn.track = track
	go drainRTCP(sender)

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		// Remote audio is played by the peer media stack; keep reading so buffers do not fill.
		for {
			if _, _, err := remote.ReadRTP(); err != nil {
				return
			}
		}
	})
	pc.OnConnectionStateChange(conn.onStateChange)

	dc, err := pc.CreateDataChannel(EventsChannelLabel, nil)
	if err != nil {
		return fail("data channel", err)
	}
	conn.dc = dc
	dc.OnOpen(func() { conn.openOnce.Do(func() { close(conn.opened) }) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { conn.inbox.deliver(msg.Data) })
	dc.OnClose(func() { conn.drop("data channel closed", nil) })
	dc.OnError(func(err error) { conn.drop("data channel error", err) })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("create offer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("set local description", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail("ice gathering", ctx.Err())
	}

	answer, err := d.exchange(ctx, h, pc.LocalDescription().SDP)
	if err != nil {
		return fail("sdp exchange", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail("set remote description", err)
	}

	select {
	case <-conn.opened:
	case <-conn.inbox.Done():
		return fail("data channel open", conn.Err())
	case <-ctx.Done():
		return fail("data channel open", ctx.Err())
	}
	return conn, nil
}

func (d *WebRTCDialer) exchange(ctx context.Context, h Handle, offer string) (string, error) {
	endpoint := h.EndpointURL
	if h.Model != "" && !strings.Contains(endpoint, "model=") {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "model=" + h.Model
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)
	req.Header.Set("Content-Type", "application/sdp")

	res, err := d.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("endpoint status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", errors.New("endpoint returned an empty answer")
	}
	return string(body), nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type peerConn struct {
	*inbox
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	track  *webrtc.TrackLocalStaticSample
	logger zerolog.Logger

	opened   chan struct{}
	openOnce sync.Once
	sendMu   sync.Mutex

	grace      time.Duration
	stateMu    sync.Mutex
	graceTimer *time.Timer
}

func (c *peerConn) Send(payload []byte) error {
	select {
	case <-c.inbox.Done():
		return errors.New("connection closed")
	default:
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.dc.SendText(string(payload))
}

func (c *peerConn) AudioSink() AudioSink { return pcmuSink{track: c.track} }

func (c *peerConn) Close() error {
	if !c.inbox.shutdown(nil) {
		return nil
	}
	return c.pc.Close()
}

// onStateChange drops the connection on failure or close. A disconnected peer is given
// the grace period to reconnect first.
func (c *peerConn) onStateChange(state webrtc.PeerConnectionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch state {
	case webrtc.PeerConnectionStateDisconnected:
		if c.graceTimer != nil {
			return
		}
		c.logger.Debug().Dur("grace", c.grace).Msg("webrtc connection disconnected, waiting for recovery")
		var timer *time.Timer
		timer = time.AfterFunc(c.grace, func() {
			c.stateMu.Lock()
			current := c.graceTimer == timer
			if current {
				c.graceTimer = nil
			}
			c.stateMu.Unlock()
			if current {
				c.drop("disconnected", nil)
			}
		})
		c.graceTimer = timer
	case webrtc.PeerConnectionStateConnected:
		if c.graceTimer != nil {
			c.logger.Debug().Msg("webrtc connection recovered")
		}
		c.stopGraceLocked()
	case webrtc.PeerConnectionStateFailed:
		c.stopGraceLocked()
		c.drop("failed", nil)
	case webrtc.PeerConnectionStateClosed:
		c.stopGraceLocked()
		c.drop("closed", nil)
	}
}

func (c *peerConn) stopGraceLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

func (c *peerConn) drop(reason string, err error) {
	if c.inbox.shutdown(&realtime.TransportDisconnectedError{Reason: reason, Err: err}) {
		c.logger.Warn().Str("reason", reason).Err(err).Msg("webrtc connection dropped")
		go func() { _ = c.pc.Close() }()
	}
}

type pcmuSink struct {
	track *webrtc.TrackLocalStaticSample
}

func (s pcmuSink) SampleRate() int { return pcmuSampleRate }

// WritePCM16 encodes 8 kHz mono PCM16LE to G.711 u-law and writes it as one sample.
func (s pcmuSink) WritePCM16(pcm []byte) error {
	if len(pcm) < 2 {
		return nil
	}
	frames := len(pcm) / 2
	return s.track.WriteSample(media.Sample{
		Data:     g711.EncodeUlaw(pcm[:frames*2]),
		Duration: time.Duration(frames) * time.Second / pcmuSampleRate,
	})
}
