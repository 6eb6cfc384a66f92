package cart

import (
	"bytes"
	"encoding/gob"
)

// cpuHz is the DMG's T-state rate; the RTC folds in one second of ticking
// once this many T-states have accumulated via Tick.
const cpuHz = 4194304

// MBC3 implements ROM/RAM banking plus the MBC3 real-time clock.
// Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank, 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (08-0C)
// - 6000-7FFF: latch clock on a 0x00 -> 0x01 write
// - A000-BFFF: external RAM, or the latched RTC register when one is selected
//
// The clock advances from accumulated CPU T-states (Tick, driven by the bus
// with each instruction's T-state count) rather than wall time, so save-state replay and
// headless/scripted runs stay deterministic: loading the same save twice
// always reproduces the same RTC register values regardless of how much
// real time elapsed between runs.
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	bankSel    byte // 0-3 RAM bank, or 0x08-0x0C RTC register select

	latchPrev byte

	rtcSec, rtcMin, rtcHour byte
	rtcDay                  uint16 // 9 bits
	rtcHalt, rtcCarry       bool
	cycleAccum              int64 // T-states accumulated since the last whole-second fold-in

	latched [5]byte
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

// Tick accumulates T-states and folds whole elapsed seconds into the live
// RTC counters, satisfying the cart.Tickable interface.
func (m *MBC3) Tick(cycles int) {
	if cycles <= 0 || m.rtcHalt {
		return
	}
	m.cycleAccum += int64(cycles)
	if m.cycleAccum < cpuHz {
		return
	}
	delta := m.cycleAccum / cpuHz
	m.cycleAccum %= cpuHz
	m.advanceRTC(delta)
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.bankSel >= 0x08 && m.bankSel <= 0x0C {
			return m.readRTC()
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.bankSel & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		if value <= 0x03 || (value >= 0x08 && value <= 0x0C) {
			m.bankSel = value
		}
	case addr < 0x8000:
		if m.latchPrev == 0x00 && value == 0x01 {
			m.latchRTC()
		}
		m.latchPrev = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.bankSel >= 0x08 && m.bankSel <= 0x0C {
			m.writeRTC(value)
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.bankSel & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// advanceRTC folds delta elapsed seconds (already confirmed non-halted) into
// the live counters.
func (m *MBC3) advanceRTC(delta int64) {
	total := int64(m.rtcSec) + delta
	m.rtcSec = byte(total % 60)
	totalMin := int64(m.rtcMin) + total/60
	m.rtcMin = byte(totalMin % 60)
	totalHour := int64(m.rtcHour) + totalMin/60
	m.rtcHour = byte(totalHour % 24)
	totalDay := int64(m.rtcDay) + totalHour/24
	if totalDay > 0x1FF {
		m.rtcCarry = true
		totalDay %= 512
	}
	m.rtcDay = uint16(totalDay)
}

func (m *MBC3) latchRTC() {
	m.latched[0] = m.rtcSec
	m.latched[1] = m.rtcMin
	m.latched[2] = m.rtcHour
	m.latched[3] = byte(m.rtcDay)
	dh := byte((m.rtcDay >> 8) & 0x01)
	if m.rtcHalt {
		dh |= 1 << 6
	}
	if m.rtcCarry {
		dh |= 1 << 7
	}
	m.latched[4] = dh
}

func (m *MBC3) readRTC() byte {
	idx := m.bankSel - 0x08
	if idx > 4 {
		return 0xFF
	}
	return m.latched[idx]
}

func (m *MBC3) writeRTC(v byte) {
	switch m.bankSel {
	case 0x08:
		m.rtcSec = v % 60
	case 0x09:
		m.rtcMin = v % 60
	case 0x0A:
		m.rtcHour = v % 24
	case 0x0B:
		m.rtcDay = (m.rtcDay & 0x100) | uint16(v)
	case 0x0C:
		m.rtcDay = (m.rtcDay & 0x0FF) | (uint16(v&0x01) << 8)
		m.rtcHalt = v&(1<<6) != 0
		m.rtcCarry = v&(1<<7) != 0
	}
	m.latchRTC()
}

// SaveRAM persists external RAM plus the RTC state, so a save blob from
// cartridge_ram_bytes() round-trips both across a restart.
func (m *MBC3) SaveRAM() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(mbc3RAMBlob{
		RAM: append([]byte(nil), m.ram...),
		RTC: rtcSnapshot{
			Sec: m.rtcSec, Min: m.rtcMin, Hour: m.rtcHour, Day: m.rtcDay,
			Halt: m.rtcHalt, Carry: m.rtcCarry, CycleAccum: m.cycleAccum,
			Latched: m.latched,
		},
	})
	return buf.Bytes()
}

func (m *MBC3) LoadRAM(data []byte) {
	var blob mbc3RAMBlob
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&blob); err != nil {
		// Legacy/plain-RAM save blob with no RTC payload.
		if len(m.ram) > 0 && len(data) > 0 {
			n := len(data)
			if n > len(m.ram) {
				n = len(m.ram)
			}
			copy(m.ram, data[:n])
		}
		return
	}
	if len(m.ram) > 0 && len(blob.RAM) > 0 {
		copy(m.ram, blob.RAM)
	}
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = blob.RTC.Sec, blob.RTC.Min, blob.RTC.Hour, blob.RTC.Day
	m.rtcHalt, m.rtcCarry, m.cycleAccum = blob.RTC.Halt, blob.RTC.Carry, blob.RTC.CycleAccum
	m.latched = blob.RTC.Latched
}

type rtcSnapshot struct {
	Sec, Min, Hour byte
	Day            uint16
	Halt, Carry    bool
	CycleAccum     int64
	Latched        [5]byte
}

type mbc3RAMBlob struct {
	RAM []byte
	RTC rtcSnapshot
}

type mbc3State struct {
	RAM              []byte
	RamEnabled       bool
	RomBank, BankSel byte
	LatchPrev        byte
	RTC              rtcSnapshot
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := mbc3State{
		RAM: append([]byte(nil), m.ram...), RamEnabled: m.ramEnabled,
		RomBank: m.romBank, BankSel: m.bankSel, LatchPrev: m.latchPrev,
		RTC: rtcSnapshot{
			Sec: m.rtcSec, Min: m.rtcMin, Hour: m.rtcHour, Day: m.rtcDay,
			Halt: m.rtcHalt, Carry: m.rtcCarry, CycleAccum: m.cycleAccum,
			Latched: m.latched,
		},
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	if len(m.ram) > 0 && len(s.RAM) > 0 {
		copy(m.ram, s.RAM)
	}
	m.ramEnabled, m.romBank, m.bankSel, m.latchPrev = s.RamEnabled, s.RomBank, s.BankSel, s.LatchPrev
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.RTC.Sec, s.RTC.Min, s.RTC.Hour, s.RTC.Day
	m.rtcHalt, m.rtcCarry, m.cycleAccum = s.RTC.Halt, s.RTC.Carry, s.RTC.CycleAccum
	m.latched = s.RTC.Latched
}
