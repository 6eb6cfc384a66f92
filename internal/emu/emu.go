// Package emu wires the CPU, MMU/PPU/APU/Timer/Joypad/Serial bus, and
// cartridge into the single cooperative, cycle-stepped core: Machine is the
// orchestrator that drives everything else.
package emu

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dmgcore/internal/bus"
	"dmgcore/internal/cart"
	"dmgcore/internal/cpu"
	"dmgcore/internal/joypad"
)

// Shade is one of the DMG's four 2-bit color values, lightest to darkest.
type Shade byte

const (
	White     Shade = 0
	LightGray Shade = 1
	DarkGray  Shade = 2
	Black     Shade = 3
)

// FrameBuffer is a rendered frame, 144 rows of 160 shades, row-major.
type FrameBuffer [144][160]Shade

// Options configures a Machine at construction time.
type Options struct {
	// Debugger enables the pre-instruction debugger hook installed via SetDebugHook.
	Debugger bool
	// Trace raises logging to one line per executed instruction.
	Trace bool
	// DisableLogs silences the orchestrator's logger entirely.
	DisableLogs bool
	// ExitOnInfiniteJR terminates Run/StepFrame when a JR loops back to its
	// own address, the classic test-ROM "trap forever" pattern.
	ExitOnInfiniteJR bool
	// PrintSerial echoes bytes shifted out over the serial port to stdout,
	// the mechanism blargg-style test ROMs use to report PASS/FAIL.
	PrintSerial bool
}

var (
	ErrInvalidROM       = errors.New("invalid_rom")
	ErrUnsupportedMBC   = errors.New("unsupported_mbc")
	ErrSaveSizeMismatch = errors.New("save_size_mismatch")
)

const (
	framesPerSecond = 59.73
	cyclesPerFrame  = 70224 // one full PPU frame at 4.194304MHz
)

// Machine is the DMG core: CPU plus the MMU-routed PPU/APU/Timer/Joypad/
// Serial peripherals and the cartridge currently loaded.
type Machine struct {
	bus  *bus.Bus
	cpu  *cpu.CPU
	opts Options
	log  *log.Logger

	romPath   string
	header    *cart.Header
	debugHook func(c *cpu.CPU)
}

// New parses rom, builds the cartridge and wires up the bus and CPU to
// typical DMG post-boot state (no boot ROM is emulated; §6 lists the ROM
// blob and an optional save blob as the only construction inputs). If save
// is non-empty and its length doesn't match the cartridge's battery RAM,
// the mismatch is logged and the save is ignored rather than failing
// construction.
func New(rom []byte, save []byte, opts Options) (*Machine, error) {
	if len(rom) < 0x150 {
		return nil, fmt.Errorf("%w: ROM is %d bytes, need at least 0x150", ErrInvalidROM, len(rom))
	}
	c, err := cart.NewCartridge(rom)
	if err != nil {
		var um *cart.UnsupportedMBCError
		if errors.As(err, &um) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedMBC, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidROM, err)
	}

	m := &Machine{opts: opts, log: newLogger(opts)}
	m.header, _ = cart.ParseHeader(rom)
	m.bus = bus.New(c, 44100)
	m.cpu = cpu.New(m.bus)
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	m.cpu.SetIllegalOpcodeHook(func(op byte, pc uint16) {
		m.log.Printf("warn: illegal opcode %#02x at %#04x, CPU halted", op, pc)
	})
	m.applyPostBootIO()

	if opts.PrintSerial {
		m.bus.SetSerialSink(os.Stdout)
	}
	if len(save) > 0 {
		if err := m.LoadBattery(save); err != nil {
			m.log.Printf("save: %v", err)
		}
	}
	return m, nil
}

// NewFromFile reads romPath (and, if present, a sibling .sav file with the
// same base name) and constructs a Machine from it.
func NewFromFile(romPath string, opts Options) (*Machine, error) {
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidROM, err)
	}
	var save []byte
	if sav, err := os.ReadFile(savPathFor(romPath)); err == nil {
		save = sav
	}
	m, err := New(rom, save, opts)
	if err != nil {
		return nil, err
	}
	m.romPath = romPath
	return m, nil
}

func savPathFor(romPath string) string {
	ext := filepath.Ext(romPath)
	return strings.TrimSuffix(romPath, ext) + ".sav"
}

func newLogger(opts Options) *log.Logger {
	var out io.Writer = os.Stderr
	if opts.DisableLogs {
		out = io.Discard
	}
	return log.New(out, "", log.LstdFlags)
}

// ROMPath reports the path NewFromFile loaded, or "" if constructed via New.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header's title, or "" if unavailable.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// SetDebugHook installs fn to run before every fetched instruction. It is a
// no-op unless Options.Debugger was set at construction.
func (m *Machine) SetDebugHook(fn func(c *cpu.CPU)) {
	if !m.opts.Debugger {
		return
	}
	m.debugHook = fn
}

// SetSerialWriter redirects serial output regardless of Options.PrintSerial,
// primarily so tests can capture blargg-style PASS/FAIL text.
func (m *Machine) SetSerialWriter(w io.Writer) {
	m.bus.SetSerialSink(w)
}

// SetAudioCallback installs the sink invoked once the APU accumulates a
// batch of stereo samples, independent of Run (hosts that pull frames via
// StepFrame still want audio pushed as it's generated).
func (m *Machine) SetAudioCallback(cb func(left, right []float32)) {
	m.bus.APU.SetAudioCallback(cb)
}

// PressButton and ReleaseButton forward to the joypad latch; a press while
// the button's group is selected may assert the joypad interrupt.
func (m *Machine) PressButton(b joypad.Button)   { m.bus.PressButton(b) }
func (m *Machine) ReleaseButton(b joypad.Button) { m.bus.ReleaseButton(b) }

// CartridgeRAMBytes returns the current battery-backed RAM contents for the
// host to persist, or nil if the cartridge has none.
func (m *Machine) CartridgeRAMBytes() []byte {
	data, _ := m.SaveBattery()
	return data
}

// SaveBattery returns a copy of the cartridge's battery-backed RAM, or
// ok=false if the cartridge has no RAM to persist.
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	bb, isBattery := m.bus.Cart().(cart.BatteryBacked)
	if !isBattery {
		return nil, false
	}
	data = bb.SaveRAM()
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}

// LoadBattery restores previously saved cartridge RAM. A size mismatch
// against the cartridge's actual RAM is the save_size_mismatch error kind:
// recoverable, the save is ignored and the error is returned for the
// caller (or New) to log.
func (m *Machine) LoadBattery(data []byte) error {
	bb, isBattery := m.bus.Cart().(cart.BatteryBacked)
	if !isBattery {
		return nil
	}
	want := len(bb.SaveRAM())
	if len(data) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSaveSizeMismatch, len(data), want)
	}
	bb.LoadRAM(data)
	return nil
}

type machineState struct {
	Bus []byte
	CPU []byte
}

// SaveState snapshots the whole machine (bus, peripherals, cartridge
// banking state, and CPU registers) into an opaque blob.
func (m *Machine) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(machineState{Bus: m.bus.SaveState(), CPU: m.cpu.SaveState()})
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState.
func (m *Machine) LoadState(data []byte) error {
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	m.bus.LoadState(s.Bus)
	m.cpu.LoadState(s.CPU)
	return nil
}

// SaveStateToFile and LoadStateFromFile are thin file-backed wrappers
// around SaveState/LoadState for hosts that persist slots on disk.
func (m *Machine) SaveStateToFile(path string) error {
	return os.WriteFile(path, m.SaveState(), 0644)
}

func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.LoadState(data)
}

// applyPostBootIO sets IO registers to their typical DMG post-boot values,
// since this core never runs an actual boot ROM: LCD on with default BG
// tile/map bases, BGP=FC and OBP0/OBP1=FF, APU powered with all four
// channels routed to both speakers, no timer/interrupts enabled yet.
func (m *Machine) applyPostBootIO() {
	b := m.bus
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
	b.Write(0xFF26, 0x80)
	b.Write(0xFF24, 0x77)
	b.Write(0xFF25, 0xFF)
}

// Run drives the core until shouldClose returns true, calling onVBlank once
// per rendered frame and onAudio whenever the APU flushes a batch of
// samples. The outer loop throttles to the 59.73Hz frame rate by sleeping
// off whatever wall time an iteration didn't use.
func (m *Machine) Run(shouldClose func() bool, onVBlank func(FrameBuffer), onAudio func(left, right []float32)) {
	if onAudio != nil {
		m.bus.APU.SetAudioCallback(onAudio)
	}
	fps := float64(framesPerSecond)
	frameDur := time.Duration(float64(time.Second) / fps)

	for {
		if shouldClose != nil && shouldClose() {
			return
		}
		start := time.Now()
		closed := m.stepFrame(shouldClose)
		if onVBlank != nil {
			onVBlank(m.renderFrame())
		}
		if closed {
			return
		}
		if elapsed := time.Since(start); elapsed < frameDur {
			time.Sleep(frameDur - elapsed)
		}
	}
}

// StepFrame advances exactly one frame without throttling and returns the
// rendered result; headless drivers and tests that pull frames synchronously
// use this instead of Run.
func (m *Machine) StepFrame() FrameBuffer {
	m.stepFrame(nil)
	return m.renderFrame()
}

// StepFrameNoRender advances one frame without paying for RenderScanline,
// for serial-output test ROMs that only care about the print_serial sink.
func (m *Machine) StepFrameNoRender() {
	m.stepFrame(nil)
}

// stepFrame runs the CPU for one frame's worth of cycles (70224 T-states),
// feeding each instruction's cycle count to the bus (which in turn advances
// PPU, APU, and Timer, in that order) immediately after the CPU executes it.
// It reports whether shouldClose fired mid-frame.
func (m *Machine) stepFrame(shouldClose func() bool) bool {
	cycles := 0
	for cycles < cyclesPerFrame {
		if shouldClose != nil && shouldClose() {
			return true
		}
		if m.debugHook != nil {
			m.debugHook(m.cpu)
		}
		pc := m.cpu.PC
		n := m.cpu.Step()
		m.bus.Tick(n)
		cycles += n
		if m.opts.Trace {
			m.log.Printf("%04X  cyc=%d", pc, n)
		}
		if m.opts.ExitOnInfiniteJR && m.cpu.PC == pc && !m.cpu.Halted() {
			return true
		}
	}
	return false
}

func (m *Machine) renderFrame() FrameBuffer {
	var fb FrameBuffer
	for y := range fb {
		row := m.bus.PPU.RenderScanline(y)
		for x, v := range row {
			fb[y][x] = Shade(v)
		}
	}
	return fb
}
