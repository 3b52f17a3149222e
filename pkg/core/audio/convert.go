package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultDCAlpha is the smoothing factor of the running mean subtracted when
// DC removal is enabled.
const DefaultDCAlpha = 0.005

// State is the per-direction carry between consecutive frames.
type State struct {
	// Phase is the position of the next output sample relative to the first
	// sample of the next input frame, in units of 1/To.SampleRate input samples.
	Phase  int64
	Last   int16
	Primed bool

	Mean     float64
	MeanInit bool
}

// Conversion turns frames of one PCM format into another. Apply is a pure
// function of its inputs, so the same Conversion can serve many calls.
type Conversion struct {
	From     Format
	To       Format
	RemoveDC bool
	// DCAlpha overrides DefaultDCAlpha when > 0.
	DCAlpha float64
}

// Validate checks both formats.
func (c Conversion) Validate() error {
	if err := c.From.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.To.Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}

// Apply converts one frame. Steps run in a fixed order: decode in the source
// byte order, remove DC bias, resample, encode in the target byte order.
func (c Conversion) Apply(frame []byte, st State) ([]byte, State, error) {
	if err := c.Validate(); err != nil {
		return nil, st, err
	}
	if len(frame)%c.From.BytesPerSample() != 0 {
		return nil, st, fmt.Errorf("%w: frame length %d is not a multiple of %d", ErrUnsupportedFormat, len(frame), c.From.BytesPerSample())
	}
	if len(frame) == 0 {
		return []byte{}, st, nil
	}

	samples := decode(frame, c.From.ByteOrder)
	if c.RemoveDC {
		alpha := c.DCAlpha
		if alpha <= 0 {
			alpha = DefaultDCAlpha
		}
		st = removeDC(samples, st, alpha)
	}

	out, st := resample(samples, c.From.SampleRate, c.To.SampleRate, st)
	return encode(out, c.To.ByteOrder), st, nil
}

func decode(frame []byte, order ByteOrder) []int16 {
	n := len(frame) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		b := frame[2*i : 2*i+2]
		if order == BigEndian {
			samples[i] = int16(binary.BigEndian.Uint16(b))
		} else {
			samples[i] = int16(binary.LittleEndian.Uint16(b))
		}
	}
	return samples
}

func encode(samples []int16, order ByteOrder) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		b := out[2*i : 2*i+2]
		if order == BigEndian {
			binary.BigEndian.PutUint16(b, uint16(s))
		} else {
			binary.LittleEndian.PutUint16(b, uint16(s))
		}
	}
	return out
}

func removeDC(samples []int16, st State, alpha float64) State {
	for i, s := range samples {
		x := float64(s)
		if !st.MeanInit {
			st.Mean = x
			st.MeanInit = true
		} else {
			st.Mean += alpha * (x - st.Mean)
		}
		samples[i] = clamp16(math.Round(x - st.Mean))
	}
	return st
}

// resample performs linear interpolation with integer phase arithmetic.
// Input sample k of this frame sits at position k*out, the carried last sample
// of the previous frame at -out; output samples are spaced in apart.
func resample(samples []int16, inRate, outRate int, st State) ([]int16, State) {
	g := gcd(inRate, outRate)
	in, out := int64(inRate/g), int64(outRate/g)
	n := int64(len(samples))

	if !st.Primed {
		st.Phase = 0
	}

	end := (n - 1) * out
	var result []int16
	if st.Phase <= end {
		result = make([]int16, 0, (end-st.Phase)/in+1)
	}
	for p := st.Phase; p <= end; p += in {
		i := floorDiv(p, out)
		frac := p - i*out

		var a, b int64
		if i < 0 {
			a, b = int64(st.Last), int64(samples[0])
		} else {
			a = int64(samples[i])
			b = a
			if i+1 < n {
				b = int64(samples[i+1])
			}
		}
		result = append(result, int16(a+roundDiv((b-a)*frac, out)))
		st.Phase = p + in
	}

	st.Phase -= n * out
	st.Last = samples[n-1]
	st.Primed = true
	return result, st
}

// Converter carries the state of one Conversion across sequential frames.
// It is not safe for concurrent use; each pump direction owns its own.
type Converter struct {
	conv  Conversion
	state State
}

// NewConverter validates c and returns a converter with fresh state.
func NewConverter(c Conversion) (*Converter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Converter{conv: c}, nil
}

// Convert converts the next frame in sequence.
func (c *Converter) Convert(frame []byte) ([]byte, error) {
	out, st, err := c.conv.Apply(frame, c.state)
	if err != nil {
		return nil, err
	}
	c.state = st
	return out, nil
}

// Conversion returns the underlying conversion.
func (c *Converter) Conversion() Conversion { return c.conv }

// Reset discards carried state.
func (c *Converter) Reset() { c.state = State{} }

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func roundDiv(a, b int64) int64 {
	if a >= 0 {
		return (a + b/2) / b
	}
	return -((-a + b/2) / b)
}
