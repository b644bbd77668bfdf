package audio

import "encoding/binary"

// BytesToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate with linear
// interpolation. The input is returned unchanged when the rates match.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := BytesToInt16(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		s0 := float64(in[j])
		s1 := s0
		if j+1 < len(in) {
			s1 = float64(in[j+1])
		}
		out[i] = int16(s0*(1-frac) + s1*frac)
	}
	return Int16ToBytes(out)
}

// Reframer slices an arbitrary byte stream into fixed-size frames.
// Not safe for concurrent use.
type Reframer struct {
	size int
	buf  []byte
}

// NewReframer returns a Reframer emitting frames of size bytes.
func NewReframer(size int) *Reframer {
	return &Reframer{size: size}
}

// Push appends data and returns every complete frame now available.
func (r *Reframer) Push(data []byte) [][]byte {
	r.buf = append(r.buf, data...)
	var frames [][]byte
	for len(r.buf) >= r.size {
		frame := make([]byte, r.size)
		copy(frame, r.buf[:r.size])
		frames = append(frames, frame)
		r.buf = r.buf[r.size:]
	}
	return frames
}

// Flush returns the buffered remainder zero-padded to a full frame, or nil
// when nothing is buffered.
func (r *Reframer) Flush() []byte {
	if len(r.buf) == 0 {
		return nil
	}
	frame := make([]byte, r.size)
	copy(frame, r.buf)
	r.buf = r.buf[:0]
	return frame
}
