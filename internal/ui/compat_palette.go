package ui

import (
	"strings"

	"dmgcore/internal/emu"
)

// compatPalette recolors the core's four canonical 2-bit shades for
// presentation only; the core itself never knows this table exists and
// always emits White/LightGray/DarkGray/Black regardless of which entry is
// selected here.
type compatPalette [4][4]byte // RGBA per shade, lightest to darkest

var compatPaletteNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel"}

var compatPalettes = []compatPalette{
	{ // Green: the original DMG's LCD tint
		{0xE0, 0xF8, 0xD0, 0xFF}, {0x88, 0xC0, 0x70, 0xFF}, {0x34, 0x68, 0x56, 0xFF}, {0x08, 0x18, 0x20, 0xFF},
	},
	{ // Sepia
		{0xF4, 0xE4, 0xC8, 0xFF}, {0xC2, 0xA1, 0x78, 0xFF}, {0x7A, 0x5C, 0x3E, 0xFF}, {0x2B, 0x1F, 0x14, 0xFF},
	},
	{ // Blue
		{0xE8, 0xF4, 0xFF, 0xFF}, {0x90, 0xB8, 0xE0, 0xFF}, {0x40, 0x68, 0x98, 0xFF}, {0x10, 0x18, 0x30, 0xFF},
	},
	{ // Red
		{0xFC, 0xE8, 0xE4, 0xFF}, {0xE0, 0x90, 0x80, 0xFF}, {0x98, 0x40, 0x38, 0xFF}, {0x30, 0x10, 0x10, 0xFF},
	},
	{ // Pastel
		{0xFB, 0xF0, 0xE8, 0xFF}, {0xE8, 0xC8, 0xD8, 0xFF}, {0xA8, 0x98, 0xC8, 0xFF}, {0x40, 0x38, 0x58, 0xFF},
	},
}

func clampPaletteID(id int) int {
	n := len(compatPalettes)
	return ((id % n) + n) % n
}

// paletteRGBA returns the RGBA bytes for shade s under palette id.
func paletteRGBA(id int, s emu.Shade) [4]byte {
	return compatPalettes[clampPaletteID(id)][s]
}

type compatRule struct {
	substr string
	id     int
}

var compatTitleRules = []compatRule{
	{"TETRIS", 2},
	{"MARIO", 3},
	{"ZELDA", 0},
	{"KIRBY", 4},
	{"DONKEY KONG", 1},
	{"METROID", 3},
	{"MEGA MAN", 2},
	{"MEGAMAN", 2},
	{"WARIO", 1},
	{"POKEMON", 4},
	{"POCKET MONSTERS", 4},
}

// autoCompatPalette picks a default palette ID from the cartridge title
// using a small family heuristic, falling back to the original green tint.
func autoCompatPalette(title string) int {
	t := strings.ToUpper(strings.TrimSpace(strings.TrimRight(title, "\x00")))
	for _, r := range compatTitleRules {
		if strings.Contains(t, r.substr) {
			return r.id
		}
	}
	return 0
}
