package audio

import "encoding/binary"

// Stereo16ToMono16 downmixes interleaved PCM16 little-endian stereo audio to
// mono by averaging the left and right channel of each sample pair. Trailing
// bytes that don't form a complete stereo frame are dropped.
func Stereo16ToMono16(stereo []byte) []byte {
	frames := len(stereo) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(stereo[i*4:]))
		r := int16(binary.LittleEndian.Uint16(stereo[i*4+2:]))
		avg := int16((int32(l) + int32(r)) / 2)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(avg))
	}
	return out
}
