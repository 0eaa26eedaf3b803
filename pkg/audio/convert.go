package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMisaligned is returned by [Converter.Convert] when the input length is
// not a whole number of sample frames for the source format.
var ErrMisaligned = errors.New("audio: pcm data not frame aligned")

// Converter converts frames from a source [Format] to a target [Format].
// Conversion order is resample first, then channel conversion, so that a
// stereo → mono conversion never resamples twice the data it needs to.
//
// A Converter holds no mutable state and is safe for concurrent use.
type Converter struct {
	From Format
	To   Format
}

// Passthrough reports whether the converter leaves data unchanged.
func (c Converter) Passthrough() bool {
	return c.From == c.To
}

// Convert returns pcm converted to the target format. When the formats match
// pcm is returned as-is, regardless of alignment.
func (c Converter) Convert(pcm []byte) ([]byte, error) {
	return c.convert(pcm, func(b []byte) []byte {
		return Resample16(b, c.From.Channels, c.From.SampleRate, c.To.SampleRate)
	})
}

func (c Converter) convert(pcm []byte, resample func([]byte) []byte) ([]byte, error) {
	if c.Passthrough() {
		return pcm, nil
	}
	if fs := c.From.FrameSize(); fs == 0 || len(pcm)%fs != 0 {
		return nil, fmt.Errorf("%w: %d bytes at %s", ErrMisaligned, len(pcm), c.From)
	}

	out := pcm
	if c.From.SampleRate != c.To.SampleRate {
		out = resample(out)
	}

	switch {
	case c.From.Channels == 1 && c.To.Channels == 2:
		out = MonoToStereo(out)
	case c.From.Channels == 2 && c.To.Channels == 1:
		out = StereoToMono(out)
	}
	return out, nil
}

// MonoToStereo duplicates every mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		s := pcm[i*2 : i*2+2]
		copy(out[i*4:], s)
		copy(out[i*4+2:], s)
	}
	return out
}

// StereoToMono averages each L+R pair into one sample.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation between neighbouring
// frames. Invalid rates or an equal rate return pcm unchanged.
//
// The chunk is treated as a whole signal: the output length is floored and
// the last frame is held at the end. Use a [Stream] for consecutive chunks of
// one signal.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * BytesPerSample)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0+(s1-s0)*frac))
		}
	}
	return out
}

// Stream converts consecutive chunks of one PCM signal. Unlike [Converter] it
// carries the resampling position and the last source frame from one Convert
// call to the next, so resampled output matches converting the concatenated
// input in one go apart from holding back at most one source frame.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	conv Converter

	// pos is the next output position in source frames, scaled by the target
	// rate and relative to the first frame of the current window.
	pos  int64
	prev []int16
}

// NewStream returns a [Stream] converting from one format to another.
func NewStream(from, to Format) *Stream {
	return &Stream{conv: Converter{From: from, To: to}}
}

// Converter returns the formats of s.
func (s *Stream) Converter() Converter { return s.conv }

// Convert returns the next chunk of the converted signal. The result may be
// empty when pcm does not advance the signal past a whole output frame.
func (s *Stream) Convert(pcm []byte) ([]byte, error) {
	return s.conv.convert(pcm, s.resample)
}

// Reset forgets the carried position, starting a new signal.
func (s *Stream) Reset() {
	s.pos = 0
	s.prev = nil
}

func (s *Stream) resample(pcm []byte) []byte {
	channels := s.conv.From.Channels
	src, dst := int64(s.conv.From.SampleRate), int64(s.conv.To.SampleRate)
	frames := len(pcm) / (channels * BytesPerSample)
	if frames == 0 {
		return nil
	}

	// The window is the carried frame, if any, followed by pcm.
	offset := 0
	if s.prev != nil {
		offset = 1
	}
	at := func(frame, ch int) int64 {
		if frame < offset {
			return int64(s.prev[ch])
		}
		return int64(sampleAt(pcm, (frame-offset)*channels+ch))
	}

	// Every position below limit has a right-hand neighbour in the window.
	limit := int64(frames+offset-1) * dst
	var out []byte
	if s.pos < limit {
		out = make([]byte, 0, int((limit-s.pos)/src+1)*channels*BytesPerSample)
	}
	for ; s.pos < limit; s.pos += src {
		idx := int(s.pos / dst)
		rem := s.pos % dst
		for ch := range channels {
			s0, s1 := at(idx, ch), at(idx+1, ch)
			v := s0 + (s1-s0)*rem/dst
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
		}
	}
	s.pos -= limit

	if s.prev == nil {
		s.prev = make([]int16, channels)
	}
	last := (frames - 1) * channels
	for ch := range channels {
		s.prev[ch] = sampleAt(pcm, last+ch)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(s))
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
