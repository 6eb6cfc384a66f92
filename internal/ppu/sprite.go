package ppu

// Sprite is an OAM entry already translated into screen coordinates
// (OAM's raw Y-16/X-8 offsets applied) for the scanline it appears on.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// ScanOAMForLine collects up to 10 sprites intersecting the given scanline,
// in OAM order, mirroring the DMG's per-line sprite limit.
func ScanOAMForLine(oam []byte, ly byte, use8x16 bool) []Sprite {
	height := 8
	if use8x16 {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		if base+3 >= len(oam) {
			break
		}
		y := int(oam[base]) - 16
		if int(ly) < y || int(ly) >= y+height {
			continue
		}
		out = append(out, Sprite{
			X:        int(oam[base+1]) - 8,
			Y:        y,
			Tile:     oam[base+2],
			Attr:     oam[base+3],
			OAMIndex: i,
		})
	}
	return out
}

func spritePixelColorIndex(mem VRAMReader, tile byte, attr byte, rowInSprite, col int, use8x16 bool) byte {
	height := 8
	if use8x16 {
		height = 16
		tile &^= 1
	}
	if attr&(1<<6) != 0 { // Y flip
		rowInSprite = height - 1 - rowInSprite
	}
	t := tile
	row := rowInSprite
	if use8x16 && row >= 8 {
		t = tile + 1
		row -= 8
	}
	if attr&(1<<5) != 0 { // X flip
		col = 7 - col
	}
	base := uint16(0x8000) + uint16(t)*16 + uint16(row)*2
	lo := mem.Read(base)
	hi := mem.Read(base + 1)
	b := byte(7 - col)
	return ((hi>>b)&1)<<1 | ((lo >> b) & 1)
}

// ComposeSpriteLine returns the 160-pixel sprite color-index line for ly,
// honoring BG priority (attr bit 7) against the already-rendered bgci line.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, use8x16 bool) [160]byte {
	ci, _ := ComposeSpriteLineExt(mem, sprites, ly, bgci, use8x16)
	return ci
}

// ComposeSpriteLineExt also returns, per pixel, which OBP palette (0 or 1)
// the winning sprite selects. Overlapping sprites resolve by smallest X,
// then by smallest OAM index, matching the DMG (non-CGB) priority rule.
func ComposeSpriteLineExt(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, use8x16 bool) (ci [160]byte, pal [160]byte) {
	height := 8
	if use8x16 {
		height = 16
	}
	for x := 0; x < 160; x++ {
		var winner *Sprite
		var winnerCI byte
		for i := range sprites {
			s := &sprites[i]
			row := int(ly) - s.Y
			if row < 0 || row >= height {
				continue
			}
			col := x - s.X
			if col < 0 || col >= 8 {
				continue
			}
			c := spritePixelColorIndex(mem, s.Tile, s.Attr, row, col, use8x16)
			if c == 0 {
				continue
			}
			if winner == nil || s.X < winner.X || (s.X == winner.X && s.OAMIndex < winner.OAMIndex) {
				winner = s
				winnerCI = c
			}
		}
		if winner == nil {
			continue
		}
		if winner.Attr&(1<<7) != 0 && bgci[x] != 0 {
			continue // sprite drawn behind a non-transparent BG pixel
		}
		ci[x] = winnerCI
		pal[x] = (winner.Attr >> 4) & 1
	}
	return
}

// RenderWindowScanlineUsingFetcher renders the window's contribution to a
// scanline starting at screen column winXStart (WX-7), using the tilemap
// at mapBase/addressing mode tileData8000. Columns before winXStart are
// left at 0 (transparent to the BG layer already drawn there).
func RenderWindowScanlineUsingFetcher(mem vramReader, mapBase uint16, tileData8000 bool, winXStart int, fineY byte) [160]byte {
	var out [160]byte
	if winXStart >= 160 {
		return out
	}
	if winXStart < 0 {
		winXStart = 0
	}
	var tileX uint16
	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, mapBase+tileX, fineY)
	f.Fetch()
	for x := winXStart; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			f.Configure(mapBase, tileData8000, mapBase+tileX, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}
