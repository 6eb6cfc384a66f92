package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 implements ROM banking plus MBC2's built-in 512x4-bit RAM. Unlike the
// other MBCs, RAM capacity is fixed by the chip rather than declared in the
// header, and address bit 8 (not a separate write range) disambiguates a
// RAM-enable write from a ROM-bank-select write within 0x0000-0x3FFF.
type MBC2 struct {
	rom []byte
	ram [512]byte // only the low nibble of each byte is meaningful

	ramEnabled bool
	romBank    byte // 4 bits (0 maps to 1)
}

func NewMBC2(rom []byte) *MBC2 {
	m := &MBC2{rom: rom}
	m.romBank = 1
	return m
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x0F)
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
		// RAM is 512 nibbles, mirrored across the whole A000-BFFF window.
		idx := int(addr-0xA000) & 0x1FF
		return 0xF0 | (m.ram[idx] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		if addr&0x0100 == 0 {
			// Bit 8 clear: RAM enable.
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			// Bit 8 set: ROM bank select (4 bits, 0 maps to 1).
			v := value & 0x0F
			if v == 0 {
				v = 1
			}
			m.romBank = v
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		idx := int(addr-0xA000) & 0x1FF
		m.ram[idx] = value & 0x0F
	}
}

func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	n := len(data)
	if n > len(m.ram) {
		n = len(m.ram)
	}
	copy(m.ram[:], data[:n])
}

type mbc2State struct {
	RAM        [512]byte
	RamEnabled bool
	RomBank    byte
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(mbc2State{RAM: m.ram, RamEnabled: m.ramEnabled, RomBank: m.romBank})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	var s mbc2State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	m.ram, m.ramEnabled, m.romBank = s.RAM, s.RamEnabled, s.RomBank
}
