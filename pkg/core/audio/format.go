package audio

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned for anything other than 16-bit signed mono
// PCM, or for a frame whose length is not a whole number of samples.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ByteOrder is the sample byte order of a PCM stream.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return fmt.Sprintf("ByteOrder(%d)", int(o))
	}
}

// ParseByteOrder accepts "little"/"le" and "big"/"be".
func ParseByteOrder(s string) (ByteOrder, error) {
	switch s {
	case "little", "le", "":
		return LittleEndian, nil
	case "big", "be":
		return BigEndian, nil
	default:
		return LittleEndian, fmt.Errorf("unknown byte order %q", s)
	}
}

// Format describes a raw PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	ByteOrder     ByteOrder
}

// PCM16 returns a 16-bit signed mono format at the given rate.
func PCM16(sampleRate int, order ByteOrder) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16, ByteOrder: order}
}

// Validate reports ErrUnsupportedFormat for anything but 16-bit signed mono.
func (f Format) Validate() error {
	if f.Channels != 1 || f.BitsPerSample != 16 {
		return fmt.Errorf("%w: channels=%d bits=%d", ErrUnsupportedFormat, f.Channels, f.BitsPerSample)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	return nil
}

// BytesPerSample is the width of one sample frame.
func (f Format) BytesPerSample() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesForDurationMs returns the byte length of durationMs of audio.
func (f Format) BytesForDurationMs(durationMs int) int {
	samples := f.SampleRate * durationMs / 1000
	return samples * f.BytesPerSample()
}

// MIMEType renders the format the way realtime audio APIs label raw PCM.
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}
