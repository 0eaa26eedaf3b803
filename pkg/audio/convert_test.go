package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/udpaudio/pkg/audio"
)

func pcm(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	equalSamples(t, samples(audio.MonoToStereo(pcm(100, -200, 300))), []int16{100, 100, -200, -200, 300, 300})
}

func TestStereoToMono(t *testing.T) {
	equalSamples(t, samples(audio.StereoToMono(pcm(100, 200, -100, -200))), []int16{150, -150})
}

func TestStereoToMono_Clamping(t *testing.T) {
	equalSamples(t, samples(audio.StereoToMono(pcm(32767, 32767, -32768, -32768))), []int16{32767, -32768})
}

func TestResample16(t *testing.T) {
	tests := []struct {
		name     string
		in       []byte
		channels int
		src, dst int
		want     []int16
	}{
		{"same rate", pcm(1, 2, 3), 1, 16000, 16000, []int16{1, 2, 3}},
		{"downsample mono", pcm(0, 100, 200, 300), 1, 16000, 8000, []int16{0, 200}},
		{"upsample mono", pcm(0, 100), 1, 8000, 16000, []int16{0, 50, 100, 100}},
		{"downsample stereo", pcm(0, 10, 100, 110, 200, 210, 300, 310), 2, 16000, 8000, []int16{0, 10, 200, 210}},
		{"invalid rate", pcm(5, 6), 1, 0, 16000, []int16{5, 6}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			equalSamples(t, samples(audio.Resample16(tc.in, tc.channels, tc.src, tc.dst)), tc.want)
		})
	}
}

func TestConverter_PassthroughKeepsMisalignedData(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	c := audio.Converter{From: f, To: f}
	in := []byte{0x01, 0x02, 0x03}
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("got %v, want %v", out, in)
	}
}

func TestConverter_Misaligned(t *testing.T) {
	c := audio.Converter{
		From: audio.Format{SampleRate: 16000, Channels: 2},
		To:   audio.Format{SampleRate: 16000, Channels: 1},
	}
	_, err := c.Convert([]byte{1, 2, 3, 4, 5, 6})
	if !errors.Is(err, audio.ErrMisaligned) {
		t.Fatalf("expected ErrMisaligned, got %v", err)
	}
}

func TestConverter_MonoToStereoWithResample(t *testing.T) {
	c := audio.Converter{
		From: audio.Format{SampleRate: 8000, Channels: 1},
		To:   audio.Format{SampleRate: 16000, Channels: 2},
	}
	out, err := c.Convert(pcm(0, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	equalSamples(t, samples(out), []int16{0, 0, 50, 50, 100, 100, 100, 100})
}

func ramp(frames, slope int) []byte {
	s := make([]int16, frames)
	for i := range s {
		s[i] = int16(i * slope)
	}
	return pcm(s...)
}

func TestStream_ChunkedMatchesWhole(t *testing.T) {
	mono16k := audio.Format{SampleRate: 16000, Channels: 1}
	mono44k := audio.Format{SampleRate: 44100, Channels: 1}
	in := ramp(2048, 10)

	whole, err := audio.NewStream(mono16k, mono44k).Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	st := audio.NewStream(mono16k, mono44k)
	var chunked []byte
	for off := 0; off < len(in); off += 512 * 2 {
		out, err := st.Convert(in[off : off+512*2])
		if err != nil {
			t.Fatalf("Convert: %v", err)
		}
		chunked = append(chunked, out...)
	}
	if !bytes.Equal(chunked, whole) {
		t.Fatalf("chunked output (%d bytes) differs from whole (%d bytes)", len(chunked), len(whole))
	}

	// 2047 source intervals at 44.1/16 give 5642.04 output frames.
	if got := len(chunked) / 2; got != 5643 {
		t.Errorf("frames = %d, want 5643", got)
	}
	got := samples(chunked)
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("sample %d = %d after %d: ramp not strictly increasing", i, got[i], got[i-1])
		}
	}
}

func TestStream_CarriesFrameAcrossCalls(t *testing.T) {
	st := audio.NewStream(
		audio.Format{SampleRate: 8000, Channels: 2},
		audio.Format{SampleRate: 16000, Channels: 2},
	)
	first, err := st.Convert(pcm(0, 10, 100, 110))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	equalSamples(t, samples(first), []int16{0, 10, 50, 60})

	second, err := st.Convert(pcm(200, 210))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	equalSamples(t, samples(second), []int16{100, 110, 150, 160})

	st.Reset()
	third, err := st.Convert(pcm(7, 8))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(third) != 0 {
		t.Errorf("single frame after Reset = %v, want nothing until the next frame", samples(third))
	}
}

func TestStream_MisalignedAndPassthrough(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if out, err := audio.NewStream(f, f).Convert([]byte{1, 2, 3}); err != nil || len(out) != 3 {
		t.Errorf("passthrough = %x, %v", out, err)
	}
	_, err := audio.NewStream(f, audio.Format{SampleRate: 8000, Channels: 1}).Convert([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrMisaligned) {
		t.Errorf("err = %v, want ErrMisaligned", err)
	}
}

func TestFormat(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.ByteRate(); got != 32000 {
		t.Errorf("ByteRate = %d, want 32000", got)
	}
	if got := f.Duration(1024); got != 32*time.Millisecond {
		t.Errorf("Duration(1024) = %v, want 32ms", got)
	}
	if got := f.String(); got != "16000Hz mono" {
		t.Errorf("String = %q", got)
	}
	if (audio.Format{SampleRate: 44100, Channels: 3}).IsValid() {
		t.Error("3 channels should be invalid")
	}
	if (audio.Format{}).Duration(10) != 0 {
		t.Error("zero format duration should be 0")
	}
}
