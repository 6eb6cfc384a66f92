package apu

import "testing"

func TestAPU_SetAudioCallback_FlushesAtBatchSize(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF26, 0x80) // NR52 power on
	a.CPUWrite(0xFF25, 0xFF) // NR51: route all four channels to both speakers
	a.CPUWrite(0xFF24, 0x77) // NR50: Vin off, L=7, R=7
	a.CPUWrite(0xFF11, 0x80) // NR11: duty 50%
	a.CPUWrite(0xFF12, 0xF0) // NR12: max volume, no envelope sweep
	a.CPUWrite(0xFF13, 0x00) // NR13: freq lo
	a.CPUWrite(0xFF14, 0x87) // NR14: freq hi + trigger

	var batches [][2][]float32
	a.SetAudioCallback(func(left, right []float32) {
		batches = append(batches, [2][]float32{
			append([]float32(nil), left...),
			append([]float32(nil), right...),
		})
	})

	for i := 0; i < 500 && len(batches) < 2; i++ {
		a.Tick(1000)
	}
	if len(batches) < 2 {
		t.Fatalf("expected at least 2 flushed batches, got %d", len(batches))
	}
	for bi, b := range batches {
		left, right := b[0], b[1]
		if len(left) != audioBatchSize || len(right) != audioBatchSize {
			t.Fatalf("batch %d size got L=%d R=%d want %d", bi, len(left), len(right), audioBatchSize)
		}
		for i, v := range left {
			if v < -1 || v > 1 {
				t.Fatalf("batch %d left[%d]=%v out of [-1,1]", bi, i, v)
			}
		}
		for i, v := range right {
			if v < -1 || v > 1 {
				t.Fatalf("batch %d right[%d]=%v out of [-1,1]", bi, i, v)
			}
		}
	}
}

func TestAPU_SetAudioCallback_SilentWhenDisabled(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF26, 0x00) // power off: all channels disabled

	var got []float32
	a.SetAudioCallback(func(left, right []float32) {
		if got == nil {
			got = append([]float32(nil), left...)
		}
	})
	for i := 0; i < 200 && got == nil; i++ {
		a.Tick(1000)
	}
	if got == nil {
		t.Fatalf("callback never fired")
	}
	for i, v := range got {
		if v != 0 {
			t.Fatalf("left[%d]=%v want 0 with APU powered off", i, v)
		}
	}
}
