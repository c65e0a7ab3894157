// Package audio keeps a bounded copy of captured microphone audio and writes it as WAV.
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
)

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	header := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   audioFormat,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * numChannels * bitsPerSample / 8),
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}

	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// ErrEmptyRecording is returned when nothing was captured.
var ErrEmptyRecording = errors.New("recording is empty")

// Recorder accumulates PCM16LE mono audio up to a fixed size. The first block fixes the
// sample rate; later blocks at another rate are skipped.
type Recorder struct {
	mu         sync.Mutex
	sampleRate int
	pcm        []byte
	maxBytes   int
	skipped    int
}

// NewRecorder keeps at most maxSeconds of 24 kHz audio. Zero or less means five minutes.
func NewRecorder(maxSeconds int) *Recorder {
	if maxSeconds <= 0 {
		maxSeconds = 300
	}
	return &Recorder{maxBytes: maxSeconds * 24000 * 2}
}

func (r *Recorder) Append(sampleRate int, pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sampleRate == 0 {
		r.sampleRate = sampleRate
	}
	if sampleRate != r.sampleRate || len(r.pcm)+len(pcm) > r.maxBytes {
		r.skipped++
		return
	}
	r.pcm = append(r.pcm, pcm...)
}

// Stats returns the stored byte count, sample rate and number of skipped blocks.
func (r *Recorder) Stats() (bytes, sampleRate, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pcm), r.sampleRate, r.skipped
}

func (r *Recorder) WriteTo(out io.Writer) error {
	r.mu.Lock()
	pcm := append([]byte(nil), r.pcm...)
	rate := r.sampleRate
	r.mu.Unlock()
	if len(pcm) == 0 {
		return ErrEmptyRecording
	}
	return WriteWAVPCM16LETo(out, pcm, rate)
}

// WriteFile writes the recording as a WAV file at path.
func (r *Recorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteTo(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
