// Package audio turns uploaded or downloaded audio files into the mono
// float32 PCM the inference engines consume.
package audio

import (
	"math"
	"time"
)

// SampleRate is the rate every engine expects
const SampleRate = 16000

// Sample is mono PCM in [-1, 1]. Once submitted for transcription the data
// belongs to the worker and must not be modified by the caller.
type Sample struct {
	Data       []float32
	SampleRate int
}

// Duration returns the playback length of the sample
func (s Sample) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(s.Data)) / float64(s.SampleRate) * float64(time.Second))
}

// Seconds returns the playback length in seconds
func (s Sample) Seconds() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Data)) / float64(s.SampleRate)
}

// MixDown collapses decoded channels to mono. Two channels are combined as
// sqrt(2) * (l + r) / 2; any other layout keeps channel 0.
func MixDown(channels [][]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	if len(channels) != 2 {
		out := make([]float32, len(channels[0]))
		copy(out, channels[0])
		return out
	}

	left, right := channels[0], channels[1]
	n := len(left)
	if len(right) < n {
		n = len(right)
	}

	const scale = math.Sqrt2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(scale * (float64(left[i]) + float64(right[i])) / 2)
	}
	return out
}

// Resample converts src from srcRate to dstRate with linear interpolation
func Resample(src []float32, srcRate, dstRate int) []float32 {
	if len(src) == 0 {
		return nil
	}
	if srcRate <= 0 {
		srcRate = dstRate
	}
	if dstRate <= 0 || srcRate == dstRate {
		out := make([]float32, len(src))
		copy(out, src)
		return out
	}

	ratio := float64(srcRate) / float64(dstRate)
	targetLen := int(math.Ceil(float64(len(src)) / ratio))
	if targetLen <= 0 {
		targetLen = 1
	}

	out := make([]float32, targetLen)
	for i := 0; i < targetLen; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))
		if idx >= len(src)-1 {
			out[i] = src[len(src)-1]
			continue
		}
		val := src[idx]
		out[i] = val + (src[idx+1]-val)*frac
	}
	return out
}

// Slice returns the samples between from and to seconds, clamped to the
// sample bounds. The result shares memory with s.
func (s Sample) Slice(from, to float64) []float32 {
	start := int(math.Round(from * float64(s.SampleRate)))
	end := int(math.Round(to * float64(s.SampleRate)))
	if start < 0 {
		start = 0
	}
	if end > len(s.Data) {
		end = len(s.Data)
	}
	if start >= end {
		return nil
	}
	return s.Data[start:end]
}
