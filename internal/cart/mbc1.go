package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 implements ROM/RAM banking for MBC1 cartridges (up to 2MB ROM, 32KB RAM).
type MBC1 struct {
	rom []byte
	ram []byte

	romBankLow5       byte // lower 5 bits of ROM bank number (0->1 remapped)
	ramBankOrRomHigh2 byte // either RAM bank (mode1) or ROM bank high bits (mode0)
	ramEnabled        bool
	modeSelect        byte // 0: ROM banking (default), 1: RAM banking
}

func NewMBC1(rom []byte, ramSize int) *MBC1 {
	m := &MBC1{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBankLow5 = 1
	return m
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if m.modeSelect == 0 {
			if int(addr) < len(m.rom) {
				return m.rom[addr]
			}
			return 0xFF
		}
		// Mode 1: the high 2 bits also apply to the fixed 0x0000-0x3FFF window.
		bank := int((m.ramBankOrRomHigh2 & 0x03) << 5)
		off := bank*0x4000 + int(addr)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.effectiveROMBank())
		off := bank*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		off := m.ramOffset(addr)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		m.romBankLow5 = value & 0x1F
		if m.romBankLow5 == 0 {
			m.romBankLow5 = 1
		}
	case addr < 0x6000:
		m.ramBankOrRomHigh2 = value & 0x03
	case addr < 0x8000:
		m.modeSelect = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		off := m.ramOffset(addr)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC1) ramOffset(addr uint16) int {
	ramBank := 0
	if m.modeSelect == 1 {
		ramBank = int(m.ramBankOrRomHigh2 & 0x03)
	}
	return ramBank*0x2000 + int(addr-0xA000)
}

// effectiveROMBank combines the low-5 and high-2 bit registers. Because
// romBankLow5 is forced to at least 1 on write, composite requests of
// 0x20/0x40/0x60 (high=1/2/3, low5 written as a multiple of 32) land on
// 0x21/0x41/0x61 automatically — the documented MBC1 bank remap quirk falls
// out of this representation without any extra special-casing.
func (m *MBC1) effectiveROMBank() byte {
	high := m.ramBankOrRomHigh2 & 0x03
	return m.romBankLow5 | (high << 5)
}

func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC1) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

type mbc1State struct {
	RAM               []byte
	RomBankLow5       byte
	RamBankOrRomHigh2 byte
	RamEnabled        bool
	ModeSelect        byte
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := mbc1State{
		RAM:               append([]byte(nil), m.ram...),
		RomBankLow5:       m.romBankLow5,
		RamBankOrRomHigh2: m.ramBankOrRomHigh2,
		RamEnabled:        m.ramEnabled,
		ModeSelect:        m.modeSelect,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	if len(m.ram) > 0 && len(s.RAM) > 0 {
		copy(m.ram, s.RAM)
	}
	m.romBankLow5, m.ramBankOrRomHigh2 = s.RomBankLow5, s.RamBankOrRomHigh2
	m.ramEnabled, m.modeSelect = s.RamEnabled, s.ModeSelect
}
