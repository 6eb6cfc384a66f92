// Package bus implements the DMG's memory map, wiring the cartridge, PPU,
// APU, timer, joypad, serial port, and interrupt controller into a single
// CPU-addressable 64KB space.
package bus

import (
	"bytes"
	"encoding/gob"

	"dmgcore/internal/apu"
	"dmgcore/internal/cart"
	"dmgcore/internal/interrupt"
	"dmgcore/internal/joypad"
	"dmgcore/internal/ppu"
	"dmgcore/internal/serial"
	"dmgcore/internal/timer"
)

// Bus routes every CPU memory access to the component that owns that
// address range. Echo RAM (0xE000-0xFDFF) mirrors WRAM (0xC000-0xDDFF);
// 0xFEA0-0xFEFF is unused and reads as 0xFF with writes ignored.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	PPU    *ppu.PPU
	APU    *apu.APU
	Timer  *timer.Timer
	Joypad *joypad.Joypad
	Serial *serial.Serial
	IRQ    *interrupt.Controller

	// OAM DMA: started by a write to 0xFF46, transfers 160 bytes over 160
	// M-cycles (640 T-states); OAM reads/writes from the CPU are blocked
	// for the duration.
	dmaActive   bool
	dmaSrc      uint16
	dmaCycles   int
	dmaByteLeft int
}

func New(c cart.Cartridge, sampleRate int) *Bus {
	irq := interrupt.New()
	b := &Bus{
		cart:   c,
		Timer:  timer.New(irq),
		Joypad: joypad.New(irq),
		Serial: serial.New(irq),
		APU:    apu.New(sampleRate),
		IRQ:    irq,
	}
	b.PPU = ppu.New(func(bit int) { irq.Request(interrupt.Bit(bit)) })
	return b
}

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr < 0xA000:
		return b.PPU.CPURead(addr)
	case addr < 0xC000:
		return b.cart.Read(addr)
	case addr < 0xE000:
		return b.wram[addr-0xC000]
	case addr < 0xFE00:
		return b.wram[addr-0xE000] // echo RAM
	case addr < 0xFEA0:
		if b.dmaActive {
			return 0xFF
		}
		return b.PPU.CPURead(addr)
	case addr < 0xFF00:
		return 0xFF // unused
	case addr < 0xFF80:
		return b.readIO(addr)
	case addr < 0xFFFF:
		return b.hram[addr-0xFF80]
	default: // 0xFFFF
		return b.IRQ.ReadIE()
	}
}

func (b *Bus) Write(addr uint16, v byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, v)
	case addr < 0xA000:
		b.PPU.CPUWrite(addr, v)
	case addr < 0xC000:
		b.cart.Write(addr, v)
	case addr < 0xE000:
		b.wram[addr-0xC000] = v
	case addr < 0xFE00:
		b.wram[addr-0xE000] = v // echo RAM
	case addr < 0xFEA0:
		if b.dmaActive {
			return
		}
		b.PPU.CPUWrite(addr, v)
	case addr < 0xFF00:
		// unused, ignored
	case addr < 0xFF80:
		b.writeIO(addr, v)
	case addr < 0xFFFF:
		b.hram[addr-0xFF80] = v
	default: // 0xFFFF
		b.IRQ.WriteIE(v)
	}
}

func (b *Bus) readIO(addr uint16) byte {
	switch {
	case addr == 0xFF00:
		return b.Joypad.CPURead()
	case addr == 0xFF01 || addr == 0xFF02:
		return b.Serial.CPURead(addr)
	case addr >= 0xFF04 && addr <= 0xFF07:
		return b.Timer.CPURead(addr)
	case addr == 0xFF0F:
		return b.IRQ.ReadIF()
	case addr == 0xFF46:
		return 0xFF
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.APU.CPURead(addr)
	case addr >= 0xFF40 && addr <= 0xFF4B:
		return b.PPU.CPURead(addr)
	default:
		return 0xFF
	}
}

func (b *Bus) writeIO(addr uint16, v byte) {
	switch {
	case addr == 0xFF00:
		b.Joypad.CPUWrite(v)
	case addr == 0xFF01 || addr == 0xFF02:
		b.Serial.CPUWrite(addr, v)
	case addr >= 0xFF04 && addr <= 0xFF07:
		b.Timer.CPUWrite(addr, v)
	case addr == 0xFF0F:
		b.IRQ.WriteIF(v)
	case addr == 0xFF46:
		b.startOAMDMA(v)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.APU.CPUWrite(addr, v)
	case addr >= 0xFF40 && addr <= 0xFF4B:
		b.PPU.CPUWrite(addr, v)
	}
}

func (b *Bus) startOAMDMA(srcHigh byte) {
	b.dmaActive = true
	b.dmaSrc = uint16(srcHigh) << 8
	b.dmaCycles = 0
	b.dmaByteLeft = 0xA0
}

// Tick advances every ticked component by the given number of T-states:
// the PPU and APU by dot, the timer by T-state, the serial port by its
// internal bit clock, and any cartridge with a live clock (MBC3's RTC).
func (b *Bus) Tick(cycles int) {
	b.PPU.Tick(cycles)
	b.APU.Tick(cycles)
	b.Timer.Tick(cycles)
	b.Serial.Tick(cycles)
	if tk, ok := b.cart.(cart.Tickable); ok {
		tk.Tick(cycles)
	}
	b.tickOAMDMA(cycles)
}

// tickOAMDMA copies one byte every 4 T-states (1 M-cycle), matching the
// real transfer's 160 M-cycle duration rather than completing instantly.
func (b *Bus) tickOAMDMA(cycles int) {
	if !b.dmaActive {
		return
	}
	for i := 0; i < cycles && b.dmaActive; i++ {
		b.dmaCycles++
		if b.dmaCycles < 4 {
			continue
		}
		b.dmaCycles = 0
		idx := 0xA0 - b.dmaByteLeft
		value := b.readDMASource(b.dmaSrc + uint16(idx))
		b.PPU.CPUWrite(0xFE00+uint16(idx), value)
		b.dmaByteLeft--
		if b.dmaByteLeft == 0 {
			b.dmaActive = false
		}
	}
}

// readDMASource bypasses the OAM-blocked Read path, since DMA's own source
// read is not itself blocked by the transfer it's performing.
func (b *Bus) readDMASource(addr uint16) byte {
	switch {
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr < 0xA000:
		return b.PPU.RawVRAM(addr)
	case addr < 0xC000:
		return b.cart.Read(addr)
	case addr < 0xE000:
		return b.wram[addr-0xC000]
	case addr < 0xFE00:
		return b.wram[addr-0xE000]
	default:
		return 0xFF
	}
}

// SetSerialSink installs the print_serial destination.
func (b *Bus) SetSerialSink(sink serial.Sink) { b.Serial.SetSink(sink) }

// PressButton/ReleaseButton forward host input to the joypad.
func (b *Bus) PressButton(btn joypad.Button)   { b.Joypad.ButtonPressed(btn) }
func (b *Bus) ReleaseButton(btn joypad.Button) { b.Joypad.ButtonReleased(btn) }

// Cart exposes the cartridge for battery-RAM persistence at the orchestrator level.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

type busState struct {
	WRAM [0x2000]byte
	HRAM [0x7F]byte

	DMAActive   bool
	DMASrc      uint16
	DMACycles   int
	DMAByteLeft int

	Cart   []byte
	PPU    []byte
	APU    []byte
	Timer  []byte
	Joypad []byte
	Serial []byte
	IRQ    []byte
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(busState{
		WRAM: b.wram, HRAM: b.hram,
		DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMACycles: b.dmaCycles, DMAByteLeft: b.dmaByteLeft,
		Cart: b.cart.SaveState(), PPU: b.PPU.SaveState(), APU: b.APU.SaveState(),
		Timer: b.Timer.SaveState(), Joypad: b.Joypad.SaveState(), Serial: b.Serial.SaveState(),
		IRQ: b.IRQ.SaveState(),
	})
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	var s busState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram, b.hram = s.WRAM, s.HRAM
	b.dmaActive, b.dmaSrc, b.dmaCycles, b.dmaByteLeft = s.DMAActive, s.DMASrc, s.DMACycles, s.DMAByteLeft
	b.cart.LoadState(s.Cart)
	b.PPU.LoadState(s.PPU)
	b.APU.LoadState(s.APU)
	b.Timer.LoadState(s.Timer)
	b.Joypad.LoadState(s.Joypad)
	b.Serial.LoadState(s.Serial)
	b.IRQ.LoadState(s.IRQ)
}
