package audio

import "strings"

// Quality selects which resampling backend a Resampler uses.
type Quality string

const (
	QualityAuto   Quality = "auto"
	QualitySoXR   Quality = "soxr"
	QualityLinear Quality = "linear"
)

// ParseQuality maps a MEDIA_WS_RESAMPLER token to a Quality, defaulting
// unknown or empty values to QualityAuto. "audioop" is accepted as a synonym
// for QualityLinear, matching the original implementation's flag spelling.
func ParseQuality(s string) Quality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "soxr":
		return QualitySoXR
	case "linear", "audioop":
		return QualityLinear
	default:
		return QualityAuto
	}
}

// Resampler converts a stream of PCM16 mono little-endian audio from one
// sample rate to another, chunk at a time. It is stateful: callers push
// successive chunks through Process and call Flush once at end-of-stream to
// drain any samples the backend is still holding. A Resampler is built for
// one (src, dst, quality) triple and is not safe for concurrent use.
type Resampler struct {
	srcRate, dstRate int
	quality          Quality
	linear           *linearState
	hq               *hqStream
	useHQ            bool
}

// NewResampler constructs a Resampler for the given source and destination
// sample rates. When quality is QualityAuto or QualitySoXR it attempts to
// construct the high-quality backend. If that construction fails (backend
// unavailable), QualityAuto falls back to linear interpolation, while
// QualitySoXR produces empty output from Process and Flush.
func NewResampler(srcRate, dstRate int, quality Quality) *Resampler {
	r := &Resampler{srcRate: srcRate, dstRate: dstRate, quality: quality}
	if srcRate == dstRate {
		return r
	}
	r.linear = &linearState{ratio: float64(srcRate) / float64(dstRate)}
	switch quality {
	case QualityAuto, QualitySoXR:
		if hq, ok := newHQStream(srcRate, dstRate); ok {
			r.hq = hq
			r.useHQ = true
		}
	}
	return r
}

// Process resamples one chunk of PCM16 mono audio, returning the converted
// bytes produced so far (which may be shorter, longer, or empty relative to
// the input, depending on the rate ratio and how much the backend buffers
// internally).
func (r *Resampler) Process(pcm []byte) []byte {
	if r.srcRate == r.dstRate || len(pcm) == 0 {
		return pcm
	}
	// A trailing odd byte belongs to no whole sample; drop it and resample
	// the rest, rather than discarding the entire chunk.
	if even := len(pcm) - (len(pcm) % 2); even != len(pcm) {
		pcm = pcm[:even]
	}
	if len(pcm) == 0 {
		return nil
	}
	in, err := BytesToPCM(pcm)
	if err != nil {
		return nil
	}
	if r.useHQ {
		out, ok := r.hq.process(in)
		if ok {
			return PCMToBytes(out)
		}
		r.useHQ = false
	}
	// Strict soxr quality requires the HQ backend; it never falls back to
	// linear interpolation, so a failed/unavailable backend drops audio.
	if r.quality == QualitySoXR {
		return nil
	}
	return PCMToBytes(r.linear.process(in))
}

// Flush drains any samples the backend is still holding at end-of-stream.
// It is a no-op when src and dst rates match.
func (r *Resampler) Flush() []byte {
	if r.srcRate == r.dstRate {
		return nil
	}
	if r.useHQ {
		out, ok := r.hq.flush()
		if ok {
			return PCMToBytes(out)
		}
		r.useHQ = false
	}
	if r.quality == QualitySoXR {
		return nil
	}
	out := r.linear.flush()
	if len(out) == 0 {
		return nil
	}
	return PCMToBytes(out)
}

// linearState is the stdlib fallback: streaming linear interpolation that
// carries the trailing fractional position and unconsumed tail sample
// across Process calls so chunk boundaries don't click.
type linearState struct {
	ratio   float64
	pos     float64
	tail    []int16
	hasTail bool
}

func (s *linearState) process(input []int16) []int16 {
	var combined []int16
	if s.hasTail {
		combined = make([]int16, 0, len(s.tail)+len(input))
		combined = append(combined, s.tail...)
		combined = append(combined, input...)
	} else {
		combined = input
	}
	if len(combined) < 2 {
		s.tail = combined
		s.hasTail = len(combined) > 0
		return nil
	}

	var out []int16
	pos := s.pos
	for {
		idx := int(pos)
		if idx+1 >= len(combined) {
			break
		}
		frac := pos - float64(idx)
		a := float64(combined[idx])
		b := float64(combined[idx+1])
		out = append(out, int16(a+(b-a)*frac))
		pos += s.ratio
	}

	idx := int(pos)
	if idx >= len(combined) {
		idx = len(combined) - 1
	}
	s.tail = append([]int16{}, combined[idx:]...)
	s.pos = pos - float64(idx)
	s.hasTail = true
	return out
}

// flush emits whatever trailing sample linearState is still holding: at
// end-of-stream there's no next sample to interpolate against, so the tail
// is emitted as-is rather than discarded.
func (s *linearState) flush() []int16 {
	var out []int16
	if s.hasTail && len(s.tail) > 0 {
		out = append(out, s.tail...)
	}
	s.tail = nil
	s.hasTail = false
	s.pos = 0
	return out
}
