package capture

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/realtime"
	"github.com/artwise/artwise/internal/realtime/transport"
)

type recordingOutbound struct {
	mu      sync.Mutex
	chunks  []string
	commits int
	sink    transport.AudioSink
}

func (r *recordingOutbound) SendAudioChunk(b64 string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, b64)
	return nil
}

// CommitAudioBuffer mirrors the session: an empty turn commits nothing.
func (r *recordingOutbound) CommitAudioBuffer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) == 0 {
		return nil
	}
	r.commits++
	return nil
}

func (r *recordingOutbound) AudioSink() transport.AudioSink { return r.sink }

type recordingSink struct {
	rate   int
	frames [][]byte
}

func (s *recordingSink) SampleRate() int { return s.rate }

func (s *recordingSink) WritePCM16(pcm []byte) error {
	s.frames = append(s.frames, append([]byte(nil), pcm...))
	return nil
}

func TestEncodePCM16ClampsAndScales(t *testing.T) {
	got := EncodePCM16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 32767, -32767, 32767, -32767, 16383}
	for i, w := range want {
		v := int16(binary.LittleEndian.Uint16(got[i*2:]))
		if v != w {
			t.Fatalf("sample %d = %d, want %d", i, v, w)
		}
	}
}

func TestEncodePCM16MapsNaNToSilence(t *testing.T) {
	nan := float32(math.NaN())
	got := EncodePCM16([]float32{nan, float32(math.Inf(1)), float32(math.Inf(-1))})
	want := []int16{0, 32767, -32767}
	for i, w := range want {
		if v := int16(binary.LittleEndian.Uint16(got[i*2:])); v != w {
			t.Fatalf("sample %d = %d, want %d", i, v, w)
		}
	}
}

func TestEncodeChunkIsBase64PCM16(t *testing.T) {
	chunk := EncodeChunk([]float32{1})
	raw, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if len(raw) != 2 || int16(binary.LittleEndian.Uint16(raw)) != 32767 {
		t.Fatalf("unexpected chunk bytes %v", raw)
	}
}

func TestDecodeFloat32(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf, 0x3f800000)     // 1.0
	binary.LittleEndian.PutUint32(buf[4:], 0xbf000000) // -0.5
	got := DecodeFloat32(buf)
	if len(got) != 2 || got[0] != 1 || got[1] != -0.5 {
		t.Fatalf("DecodeFloat32() = %v", got)
	}
}

func TestPushToTalkSendsChunksInOrderThenCommits(t *testing.T) {
	dev := NewFakeDevice([]float32{0.1}, []float32{0.2}, []float32{0.3})
	ptt := NewPushToTalk(dev)
	out := &recordingOutbound{}

	if err := ptt.Start(context.Background(), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := ptt.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := []string{EncodeChunk([]float32{0.1}), EncodeChunk([]float32{0.2}), EncodeChunk([]float32{0.3})}
	if len(out.chunks) != len(want) {
		t.Fatalf("chunks = %d, want %d", len(out.chunks), len(want))
	}
	for i := range want {
		if out.chunks[i] != want[i] {
			t.Fatalf("chunk %d out of order", i)
		}
	}
	if out.commits != 1 {
		t.Fatalf("commits = %d, want 1", out.commits)
	}
	cfg := dev.Configs()[0]
	if cfg.SampleRate != PushToTalkSampleRate || cfg.Channels != 1 {
		t.Fatalf("capture opened with %+v", cfg)
	}
	if dev.Held() != 0 {
		t.Fatalf("microphone still held after Stop")
	}
}

func TestPushToTalkStopWithoutAudioIsNoOp(t *testing.T) {
	dev := NewFakeDevice()
	ptt := NewPushToTalk(dev)
	out := &recordingOutbound{}

	if err := ptt.Start(context.Background(), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := ptt.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if out.commits != 0 || len(out.chunks) != 0 {
		t.Fatalf("empty turn sent %d chunks, %d commits", len(out.chunks), out.commits)
	}
	if err := ptt.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestPushToTalkRestartAcquiresFreshResources(t *testing.T) {
	dev := NewFakeDevice([]float32{0.5})
	ptt := NewPushToTalk(dev)
	out := &recordingOutbound{}

	for i := 0; i < 2; i++ {
		if err := ptt.Start(context.Background(), out); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
		if err := ptt.Stop(); err != nil {
			t.Fatalf("Stop() #%d error = %v", i+1, err)
		}
	}
	if dev.Opened() != 2 {
		t.Fatalf("opened = %d, want 2", dev.Opened())
	}
	if dev.MaxHeld() != 1 || dev.Held() != 0 {
		t.Fatalf("maxHeld=%d held=%d, want 1 and 0", dev.MaxHeld(), dev.Held())
	}
	if len(out.chunks) != 2 || out.commits != 2 {
		t.Fatalf("chunks=%d commits=%d, want 2 and 2", len(out.chunks), out.commits)
	}
}

func TestPushToTalkRejectsSecondStart(t *testing.T) {
	ptt := NewPushToTalk(NewFakeDevice())
	out := &recordingOutbound{}
	if err := ptt.Start(context.Background(), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ptt.Close()
	if err := ptt.Start(context.Background(), out); !errors.Is(err, realtime.ErrAdapterActive) {
		t.Fatalf("second Start() error = %v, want ErrAdapterActive", err)
	}
}

func TestPushToTalkCloseDoesNotCommit(t *testing.T) {
	dev := NewFakeDevice([]float32{0.5})
	ptt := NewPushToTalk(dev)
	out := &recordingOutbound{}
	if err := ptt.Start(context.Background(), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := ptt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if out.commits != 0 {
		t.Fatalf("Close() committed the turn")
	}
	if dev.Held() != 0 {
		t.Fatalf("microphone still held after Close")
	}
}

func TestPushToTalkDropsWhenQueueFull(t *testing.T) {
	dev := NewFakeDevice([]float32{0.1}, []float32{0.2}, []float32{0.3})
	block := make(chan struct{})
	out := &blockingOutbound{release: block}
	ptt := NewPushToTalk(dev, WithChunkQueue(1), WithPushToTalkLogger(zerolog.Nop()))

	if err := ptt.Start(context.Background(), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	close(block)
	if err := ptt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if out.sent == 0 || out.sent == 3 {
		t.Fatalf("sent = %d, want some but not all chunks", out.sent)
	}
}

type blockingOutbound struct {
	release chan struct{}
	mu      sync.Mutex
	sent    int
}

func (b *blockingOutbound) SendAudioChunk(string) error {
	<-b.release
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	return nil
}

func (b *blockingOutbound) CommitAudioBuffer() error       { return nil }
func (b *blockingOutbound) AudioSink() transport.AudioSink { return nil }

func TestLiveWritesFramesAtSinkRate(t *testing.T) {
	dev := NewFakeDevice([]float32{0.25, -0.25}, []float32{1})
	sink := &recordingSink{rate: 8000}
	live := NewLive(dev, zerolog.Nop())

	if err := live.Start(context.Background(), &recordingOutbound{sink: sink}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := live.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(sink.frames) != 2 || len(sink.frames[0]) != 4 {
		t.Fatalf("frames = %v", sink.frames)
	}
	if cfg := dev.Configs()[0]; cfg.SampleRate != 8000 || cfg.PeriodFrames != 160 {
		t.Fatalf("capture opened with %+v", cfg)
	}
	if dev.Held() != 0 {
		t.Fatalf("microphone still held after Stop")
	}
}

func TestLiveRequiresAudioPath(t *testing.T) {
	dev := NewFakeDevice()
	if err := NewLive(dev, zerolog.Nop()).Start(context.Background(), &recordingOutbound{}); err == nil {
		t.Fatalf("expected error without an audio sink")
	}
	if dev.Opened() != 0 {
		t.Fatalf("microphone opened without an audio path")
	}
}

func TestTapSeesBlocksBeforeAdapter(t *testing.T) {
	dev := NewFakeDevice([]float32{0.1}, []float32{0.2})
	var tapped []Config
	var blocks int
	ptt := NewPushToTalk(NewTap(dev, func(cfg Config, samples []float32) {
		tapped = append(tapped, cfg)
		blocks++
	}))
	out := &recordingOutbound{}

	if err := ptt.Start(context.Background(), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := ptt.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if blocks != 2 || len(out.chunks) != 2 {
		t.Fatalf("tapped %d blocks, sent %d chunks; want 2 and 2", blocks, len(out.chunks))
	}
	if tapped[0].SampleRate != PushToTalkSampleRate {
		t.Fatalf("tap saw config %+v", tapped[0])
	}
	if dev.Held() != 0 {
		t.Fatalf("microphone still held through tap")
	}
}

func TestMonoTakesFirstChannel(t *testing.T) {
	got := Mono([]float32{1, -1, 0.5, -0.5}, 2)
	if len(got) != 2 || got[0] != 1 || got[1] != 0.5 {
		t.Fatalf("Mono() = %v", got)
	}
}
