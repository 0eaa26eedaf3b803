// Package audio holds the PCM frame and format types shared by the ingestion
// path and the output pipeline, plus the 16-bit sample conversions needed
// when the playback device runs at a different rate or channel layout than
// the senders.
//
// All sample data is signed 16-bit little-endian PCM. Stereo data is
// interleaved L, R.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	// SampleRate in Hz (e.g. 16000 for the pipeline variant, 44100 for echo playback).
	SampleRate int `yaml:"sample_rate"`

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int `yaml:"channels"`
}

// FrameSize returns the number of bytes in one sample frame (all channels).
func (f Format) FrameSize() int {
	return f.Channels * BytesPerSample
}

// ByteRate returns the number of bytes per second at this format.
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// Duration returns the playback duration of n bytes at this format. Returns 0
// for a zero-valued format.
func (f Format) Duration(n int) time.Duration {
	br := f.ByteRate()
	if br == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(br)
}

// IsValid reports whether f has a positive sample rate and one or two channels.
func (f Format) IsValid() bool {
	return f.SampleRate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Frame is one block of PCM data moving from a datagram into the pipeline.
// A frame built from a datagram aliases the receive buffer; copy Data before
// retaining it past the call that received it.
type Frame struct {
	// Data is the raw PCM payload.
	Data []byte

	// Format of Data.
	Format Format

	// Timestamp is the receive time of the datagram the frame was built from.
	Timestamp time.Time
}
