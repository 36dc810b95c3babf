// Package audio converts between raw 16-bit PCM and WAV containers.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// BitDepth is the sample width of every PCM payload handled here.
const BitDepth = 16

// ErrInvalidWAV is returned when a payload is not a readable PCM WAV file.
var ErrInvalidWAV = errors.New("invalid wav payload")

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond is the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BitDepth / 8
}

// Buffer holds decoded samples.
type Buffer struct {
	Format   Format
	BitDepth int
	Data     []int
}

// Frames is the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || b.Format.Channels <= 0 {
		return 0
	}
	return len(b.Data) / b.Format.Channels
}

// Duration is the playing time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.Format.SampleRate)
}

// EncodeWAV wraps 16-bit PCM in a WAV container.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid format %+v", format)
	}

	// the encoder patches chunk sizes on close, so it needs a seekable target
	file, err := os.CreateTemp("", "voiceform_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}

	enc := wav.NewEncoder(file, format.SampleRate, BitDepth, format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	data, err := os.ReadFile(file.Name())
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return data, nil
}

// DecodeWAV parses a PCM WAV file into samples.
func DecodeWAV(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return nil, ErrInvalidWAV
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	return &Buffer{
		Format: Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
		},
		BitDepth: int(dec.BitDepth),
		Data:     pcm.Data,
	}, nil
}

// Silence returns zeroed PCM of the given length.
func Silence(format Format, d time.Duration) []byte {
	frames := int(d * time.Duration(format.SampleRate) / time.Second)
	return make([]byte, frames*format.Channels*BitDepth/8)
}
