// Package joypad assembles the DMG joypad register (0xFF00) from button
// state and raises the joypad interrupt on press edges.
package joypad

import "dmgcore/internal/interrupt"

// Button identifies one of the eight physical buttons.
type Button int

const (
	Right Button = iota
	Left
	Up
	Down
	A
	B
	Select
	Start
)

// Joypad holds the live button latch and the group-select bits written by
// the CPU to 0xFF00.
type Joypad struct {
	// held[b] is true while b is physically held down.
	held [8]bool

	// select holds bits 4-5 as last written (0 = that group selected).
	selectDirections bool
	selectActions    bool

	irq *interrupt.Controller
}

func New(irq *interrupt.Controller) *Joypad {
	return &Joypad{irq: irq}
}

// directionBit/actionBit map a Button to its bit position (0-3) within its group.
func directionBit(b Button) (bit byte, ok bool) {
	switch b {
	case Right:
		return 0, true
	case Left:
		return 1, true
	case Up:
		return 2, true
	case Down:
		return 3, true
	}
	return 0, false
}

func actionBit(b Button) (bit byte, ok bool) {
	switch b {
	case A:
		return 0, true
	case B:
		return 1, true
	case Select:
		return 2, true
	case Start:
		return 3, true
	}
	return 0, false
}

// ButtonPressed marks b as held; if its group is currently selected this
// raises the joypad interrupt, matching the DMG's high-to-low wake edge.
func (j *Joypad) ButtonPressed(b Button) {
	wasHeld := j.held[b]
	j.held[b] = true
	if !wasHeld && j.groupSelectedFor(b) && j.irq != nil {
		j.irq.Request(interrupt.Joypad)
	}
}

func (j *Joypad) ButtonReleased(b Button) {
	j.held[b] = false
}

func (j *Joypad) groupSelectedFor(b Button) bool {
	if _, ok := directionBit(b); ok {
		return j.selectDirections
	}
	return j.selectActions
}

// CPURead assembles the 0xFF00 register value for the currently selected group(s).
func (j *Joypad) CPURead() byte {
	v := byte(0xC0) // bits 6-7 always read 1
	if !j.selectDirections {
		v |= 1 << 4
	}
	if !j.selectActions {
		v |= 1 << 5
	}
	nibble := byte(0x0F)
	if j.selectDirections {
		nibble &= j.groupNibble(directionBit)
	}
	if j.selectActions {
		nibble &= j.groupNibble(actionBit)
	}
	return v | nibble
}

func (j *Joypad) groupNibble(bitOf func(Button) (byte, bool)) byte {
	n := byte(0x0F)
	for b := Button(0); b < 8; b++ {
		bit, ok := bitOf(b)
		if !ok {
			continue
		}
		if j.held[b] {
			n &^= 1 << bit
		}
	}
	return n
}

// CPUWrite stores the group-select bits (4-5); bits 0-3 are read-only from the CPU's side.
func (j *Joypad) CPUWrite(v byte) {
	j.selectDirections = (v & (1 << 4)) == 0
	j.selectActions = (v & (1 << 5)) == 0
}

func (j *Joypad) SaveState() []byte {
	// Encoded by the orchestrator via gob at the Machine level; kept simple here.
	b := make([]byte, 3)
	for i := 0; i < 8; i++ {
		if j.held[i] {
			b[0] |= 1 << i
		}
	}
	if j.selectDirections {
		b[1] = 1
	}
	if j.selectActions {
		b[2] = 1
	}
	return b
}

func (j *Joypad) LoadState(data []byte) {
	if len(data) < 3 {
		return
	}
	for i := 0; i < 8; i++ {
		j.held[i] = data[0]&(1<<i) != 0
	}
	j.selectDirections = data[1] != 0
	j.selectActions = data[2] != 0
}
