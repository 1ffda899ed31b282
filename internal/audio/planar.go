package audio

import (
	"encoding/binary"
)

// Planarizer converts interleaved signed 16-bit PCM into planar layout.
//
// Decoders push chunks of arbitrary size; a chunk that ends in the middle
// of a frame (or, for raw bytes, in the middle of a sample) is carried over
// to the next Write. Flush must be called at end of stream to emit the
// trailing samples.
type Planarizer struct {
	channels int
	planes   [][]int16
	pending  []int16
	odd      []byte
}

// NewPlanarizer creates a planarizer for the given channel count
func NewPlanarizer(channels int) *Planarizer {
	if channels < 1 {
		channels = 1
	}
	return &Planarizer{
		channels: channels,
		planes:   make([][]int16, channels),
		pending:  make([]int16, 0, channels),
	}
}

// Write appends interleaved samples
func (p *Planarizer) Write(samples []int16) {
	if len(p.pending) > 0 {
		need := p.channels - len(p.pending)
		if len(samples) < need {
			p.pending = append(p.pending, samples...)
			return
		}
		p.pending = append(p.pending, samples[:need]...)
		p.push(p.pending)
		p.pending = p.pending[:0]
		samples = samples[need:]
	}

	full := len(samples) - len(samples)%p.channels
	p.push(samples[:full])
	p.pending = append(p.pending, samples[full:]...)
}

// WriteS16LE appends interleaved little-endian 16-bit PCM bytes
func (p *Planarizer) WriteS16LE(b []byte) {
	if len(p.odd) > 0 {
		b = append(p.odd, b...)
		p.odd = nil
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	if len(b)%2 == 1 {
		p.odd = []byte{b[len(b)-1]}
	}
	p.Write(samples)
}

// Flush emits buffered trailing samples and returns the planes.
// An incomplete final frame is padded with silence; a dangling half
// sample is dropped.
func (p *Planarizer) Flush() [][]int16 {
	p.odd = nil
	if len(p.pending) > 0 {
		for len(p.pending) < p.channels {
			p.pending = append(p.pending, 0)
		}
		p.push(p.pending)
		p.pending = p.pending[:0]
	}
	return p.planes
}

func (p *Planarizer) push(frames []int16) {
	for i, s := range frames {
		c := i % p.channels
		p.planes[c] = append(p.planes[c], s)
	}
}
