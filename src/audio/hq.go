package audio

import (
	resampler "github.com/tphakala/go-audio-resampler"
)

// hqStream wraps the third-party high-quality resampler behind the narrow
// surface this package needs: push a chunk of interleaved mono int16 PCM in
// the source rate, get back zero or more samples in the destination rate,
// and flush any samples held internally by the underlying algorithm at
// end-of-stream. Isolating the third-party call shape here means a failure
// to construct or process never reaches past this file; callers always see
// a (nil, false) and then either fall back to the linear path (auto quality)
// or drop the audio (soxr quality).
type hqStream struct {
	r *resampler.Resampler
}

func newHQStream(srcRate, dstRate int) (*hqStream, bool) {
	r, err := resampler.New(srcRate, dstRate, 1)
	if err != nil || r == nil {
		return nil, false
	}
	return &hqStream{r: r}, true
}

func (h *hqStream) process(in []int16) ([]int16, bool) {
	if h == nil || h.r == nil {
		return nil, false
	}
	out, err := h.r.ProcessInt16(in)
	if err != nil {
		return nil, false
	}
	return out, true
}

func (h *hqStream) flush() ([]int16, bool) {
	if h == nil || h.r == nil {
		return nil, false
	}
	out, err := h.r.Flush()
	if err != nil {
		return nil, false
	}
	return out, true
}
