package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and scanline-based timing for
// a monochrome DMG. It exposes CPU-facing Read/Write for VRAM/OAM and PPU
// IO regs, plus RenderScanline to pull a finished line for the host.
type PPU struct {
	vram [0x2000]byte // 0x8000-0x9FFF
	oam  [0xA0]byte   // 0xFE00-0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	req InterruptRequester

	// Per-scanline register snapshot captured at start of each visible line's
	// mode-3 transition, so a line renders with the registers the game set
	// for that exact line even if they change again before HBlank ends.
	lineRegs [154]LineRegs

	// Internal window line counter (increments each line while window is active)
	winLineCounter byte
}

func New(req InterruptRequester) *PPU {
	return &PPU{req: req}
}

// LineRegs represents the PPU-visible registers relevant for rendering a scanline.
type LineRegs struct {
	LCDC    byte
	SCY     byte
	SCX     byte
	BGP     byte
	OBP0    byte
	OBP1    byte
	WY      byte
	WX      byte
	WinLine byte
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly = 0
			p.dot = 0
			p.winLineCounter = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.winLineCounter = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (CPU T-states).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		p.setMode(mode)

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				if p.req != nil {
					p.req(0) // VBlank IF
				}
				if (p.stat&(1<<4)) != 0 && p.req != nil {
					p.req(1) // STAT VBlank
				}
			} else if p.ly > 153 {
				p.ly = 0
				p.winLineCounter = 0
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
				windowVisible := (p.lcdc&0x20) != 0 && (p.lcdc&0x01) != 0 && p.ly >= p.wy && p.wx <= 166
				if windowVisible {
					if p.ly == p.wy {
						p.winLineCounter = 0
					} else if p.ly > p.wy {
						p.winLineCounter++
					}
				}
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat&(1<<3)) != 0 && p.req != nil {
			p.req(1)
		}
	case 2: // OAM
		if (p.stat&(1<<5)) != 0 && p.req != nil {
			p.req(1)
		}
	case 3: // Entering mode 3: latch per-line regs for rendering
		p.captureLineRegs()
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat&(1<<6)) != 0 && p.req != nil {
			p.req(1)
		}
	} else {
		p.stat &^= 1 << 2
	}
}

func (p *PPU) captureLineRegs() {
	if p.ly < 144 {
		p.lineRegs[p.ly] = LineRegs{
			LCDC: p.lcdc, SCY: p.scy, SCX: p.scx,
			BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
			WY: p.wy, WX: p.wx, WinLine: p.winLineCounter,
		}
	}
}

// LineRegs returns the captured register snapshot for a given scanline (0..153).
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= len(p.lineRegs) {
		return LineRegs{}
	}
	return p.lineRegs[y]
}

// RawVRAM returns VRAM bytes without CPU access restrictions; for renderer use only.
func (p *PPU) RawVRAM(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return p.vram[addr-0x8000]
	}
	return 0xFF
}

// RawOAM returns OAM bytes without CPU access restrictions; for renderer use only.
func (p *PPU) RawOAM(addr uint16) byte {
	if addr >= 0xFE00 && addr <= 0xFE9F {
		return p.oam[addr-0xFE00]
	}
	return 0xFF
}

// Mode returns the current STAT mode (0-3).
func (p *PPU) Mode() byte { return p.stat & 0x03 }

// LY returns the current scanline counter.
func (p *PPU) LY() byte { return p.ly }

type vramRaw struct{ p *PPU }

func (v vramRaw) Read(addr uint16) byte { return v.p.RawVRAM(addr) }

// shade maps a 2-bit color index through a BGP/OBP-style palette byte to a
// 2-bit shade (0=lightest, 3=darkest), the DMG's only notion of color.
func shade(pal byte, ci byte) byte {
	return (pal >> (ci * 2)) & 0x03
}

// RenderScanline composes BG, window, and sprites for line ly (0..143) using
// the register snapshot captured when that line entered mode 3, returning
// final 2-bit shades ready for a 4-tone DMG palette lookup.
func (p *PPU) RenderScanline(ly int) [160]byte {
	var out [160]byte
	if ly < 0 || ly >= 144 {
		return out
	}
	regs := p.LineRegs(ly)
	mem := vramRaw{p}

	var bgci [160]byte
	if regs.LCDC&0x01 != 0 {
		mapBase := uint16(0x9800)
		if regs.LCDC&0x08 != 0 {
			mapBase = 0x9C00
		}
		tileData8000 := regs.LCDC&0x10 != 0
		bgci = renderBGScanlineUsingFetcher(mem, mapBase, tileData8000, regs.SCX, regs.SCY, byte(ly))
	}

	windowVisible := regs.LCDC&0x20 != 0 && regs.LCDC&0x01 != 0 && byte(ly) >= regs.WY && regs.WX <= 166
	if windowVisible {
		winMapBase := uint16(0x9800)
		if regs.LCDC&0x40 != 0 {
			winMapBase = 0x9C00
		}
		tileData8000 := regs.LCDC&0x10 != 0
		winXStart := int(regs.WX) - 7
		// WinLine selects the window map row (WinLine/8) and the row within the tile (WinLine%8).
		winRowBase := winMapBase + uint16(regs.WinLine>>3)*32
		winci := RenderWindowScanlineUsingFetcher(mem, winRowBase, tileData8000, winXStart, regs.WinLine&7)
		start := winXStart
		if start < 0 {
			start = 0
		}
		for x := start; x < 160; x++ {
			bgci[x] = winci[x]
		}
	}

	for x := 0; x < 160; x++ {
		out[x] = shade(regs.BGP, bgci[x])
	}

	if regs.LCDC&0x02 != 0 { // OBJ enabled
		use8x16 := regs.LCDC&0x04 != 0
		sprites := ScanOAMForLine(p.oam[:], byte(ly), use8x16)
		sci, spal := ComposeSpriteLineExt(mem, sprites, byte(ly), bgci, use8x16)
		for x := 0; x < 160; x++ {
			if sci[x] == 0 {
				continue
			}
			obp := regs.OBP0
			if spal[x] == 1 {
				obp = regs.OBP1
			}
			out[x] = shade(obp, sci[x])
		}
	}
	return out
}

// --- Save/Load state ---
type ppuState struct {
	VRAM     [0x2000]byte
	OAM      [0xA0]byte
	LCDC     byte
	STAT     byte
	SCY      byte
	SCX      byte
	LY       byte
	LYC      byte
	BGP      byte
	OBP0     byte
	OBP1     byte
	WY       byte
	WX       byte
	DOT      int
	LineRegs [154]LineRegs
	WinLine  byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		DOT: p.dot, LineRegs: p.lineRegs, WinLine: p.winLineCounter,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	p.vram = s.VRAM
	p.oam = s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.dot = s.DOT
	p.lineRegs = s.LineRegs
	p.winLineCounter = s.WinLine
}
