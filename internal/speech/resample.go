package speech

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts 16-bit mono PCM between sample rates.
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate || len(pcm) < 2 {
		return pcm, nil
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", fromRate, toRate)
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	n := len(pcm) / 2
	in := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		in[i] = float64(s) / 32768.0
	}

	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	b := make([]byte, len(out)*2)
	for i, f := range out {
		var s int16
		switch {
		case f >= 1.0:
			s = 32767
		case f <= -1.0:
			s = -32768
		default:
			s = int16(f * 32767.0)
		}
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b, nil
}
