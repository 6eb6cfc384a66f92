package emu

import (
	"errors"
	"testing"
)

// buildROM makes a synthetic ROM of the given size with a cartridge-type
// byte and a copy of code placed at 0x0100, matching the layout cart
// expects; ParseHeader never validates the checksum, so callers don't need
// to compute one.
func buildROM(size int, cartType byte, code []byte) []byte {
	rom := make([]byte, size)
	rom[0x0147] = cartType
	rom[0x0148] = 0x00 // 32KB, single bank
	copy(rom[0x0100:], code)
	return rom
}

func TestNew_InvalidROM_TooShort(t *testing.T) {
	_, err := New(make([]byte, 16), nil, Options{})
	if !errors.Is(err, ErrInvalidROM) {
		t.Fatalf("expected ErrInvalidROM, got %v", err)
	}
}

func TestNew_UnsupportedMBC(t *testing.T) {
	rom := buildROM(0x8000, 0xFE, nil) // 0xFE isn't any decoded cart type
	_, err := New(rom, nil, Options{})
	if !errors.Is(err, ErrUnsupportedMBC) {
		t.Fatalf("expected ErrUnsupportedMBC, got %v", err)
	}
}

func TestNew_ROMOnly_PostBootState(t *testing.T) {
	rom := buildROM(0x8000, 0x00, nil)
	m, err := New(rom, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.cpu.PC != 0x0100 {
		t.Fatalf("PC got %04X want 0100", m.cpu.PC)
	}
	if got := m.bus.Read(0xFF40); got != 0x91 {
		t.Fatalf("LCDC post-boot got %02X want 91", got)
	}
}

func TestMachine_ExitOnInfiniteJR_StopsEarly(t *testing.T) {
	code := []byte{0x18, 0xFE} // JR -2: jumps back to its own address forever
	rom := buildROM(0x8000, 0x00, code)
	m, err := New(rom, nil, Options{ExitOnInfiniteJR: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.StepFrame()
	if m.cpu.PC != 0x0100 {
		t.Fatalf("expected PC to stay at the JR's own address, got %04X", m.cpu.PC)
	}
}

func TestMachine_SaveLoadBattery_RoundTrip(t *testing.T) {
	// Enable MBC1 RAM, write 0xA5 to external RAM, then loop forever so a
	// single StepFrame (with exit_on_infinite_jr) is enough to run it.
	code := []byte{
		0x3E, 0x0A, // LD A,0x0A
		0xEA, 0x00, 0x00, // LD (0x0000),A  ; enable RAM
		0x3E, 0xA5, // LD A,0xA5
		0xEA, 0x00, 0xA0, // LD (0xA000),A  ; write external RAM
		0x18, 0xFE, // JR -2
	}
	rom := buildROM(0x8000, 0x03, code) // MBC1+RAM+BATTERY
	rom[0x0149] = 0x02                  // 8KB RAM

	m, err := New(rom, nil, Options{ExitOnInfiniteJR: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.StepFrame()

	data, ok := m.SaveBattery()
	if !ok {
		t.Fatalf("expected battery-backed RAM to be present")
	}
	if data[0] != 0xA5 {
		t.Fatalf("cartridge_ram[0] got %02X want A5", data[0])
	}

	m2, err := New(rom, data, Options{})
	if err != nil {
		t.Fatalf("New with save: %v", err)
	}
	data2, ok := m2.SaveBattery()
	if !ok || data2[0] != 0xA5 {
		t.Fatalf("reloaded cartridge_ram[0] got %v want A5", data2)
	}
}

func TestMachine_LoadBattery_SizeMismatch(t *testing.T) {
	rom := buildROM(0x8000, 0x03, nil)
	rom[0x0149] = 0x02 // 8KB RAM
	m, err := New(rom, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.LoadBattery([]byte{1, 2, 3}); !errors.Is(err, ErrSaveSizeMismatch) {
		t.Fatalf("expected ErrSaveSizeMismatch, got %v", err)
	}
}

func TestMachine_Run_VBlankCadence(t *testing.T) {
	rom := buildROM(0x8000, 0x00, []byte{0x76}) // HALT in a loop
	for i := 0x0101; i < 0x0110; i++ {
		rom[i] = 0x76
	}
	m, err := New(rom, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	frames := 0
	closeAfter := 3
	m.Run(func() bool { return frames >= closeAfter }, func(FrameBuffer) { frames++ }, nil)
	if frames != closeAfter {
		t.Fatalf("vblank callback fired %d times, want %d", frames, closeAfter)
	}
}
