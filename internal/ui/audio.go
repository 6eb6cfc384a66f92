package ui

import (
	"encoding/binary"
	"sync"
)

// audioRing bridges the core's push-based on_audio(left, right []float32)
// callback into ebiten's pull-based io.Reader audio.Player. Push is called
// from the emulation goroutine as batches arrive; Read is called from
// whatever goroutine ebiten's audio encoder spins up. A full ring drops the
// oldest frames rather than blocking the emulator; an empty ring yields
// silence rather than blocking the player.
type audioRing struct {
	mu   sync.Mutex
	buf  []int16 // interleaved L,R
	head int
	tail int
	size int
}

func newAudioRing(capacityFrames int) *audioRing {
	return &audioRing{buf: make([]int16, capacityFrames*2)}
}

func f32ToInt16(v float32) int16 {
	switch {
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(v * 32767)
}

// Push is the on_audio callback installed on the core's APU.
func (r *audioRing) Push(left, right []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	capFrames := len(r.buf) / 2
	for i := range left {
		if r.size >= capFrames {
			r.head = (r.head + 1) % capFrames
			r.size--
		}
		r.buf[r.tail*2] = f32ToInt16(left[i])
		r.buf[r.tail*2+1] = f32ToInt16(right[i])
		r.tail = (r.tail + 1) % capFrames
		r.size++
	}
}

// Read implements io.Reader for ebiten's audio.Player: little-endian 16-bit
// stereo PCM, padded with silence when the ring has less than requested.
func (r *audioRing) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	capFrames := len(r.buf) / 2
	n := 0
	for n+4 <= len(p) {
		if r.size == 0 {
			binary.LittleEndian.PutUint16(p[n:], 0)
			binary.LittleEndian.PutUint16(p[n+2:], 0)
		} else {
			binary.LittleEndian.PutUint16(p[n:], uint16(r.buf[r.head*2]))
			binary.LittleEndian.PutUint16(p[n+2:], uint16(r.buf[r.head*2+1]))
			r.head = (r.head + 1) % capFrames
			r.size--
		}
		n += 4
	}
	return n, nil
}
