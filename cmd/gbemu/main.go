package main

import (
	"errors"
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"dmgcore/internal/cart"
	"dmgcore/internal/emu"
	"dmgcore/internal/ui"
)

type CLIFlags struct {
	ROMPath string
	Scale   int
	Title   string
	Trace   bool
	SaveRAM bool

	Headless bool
	Frames   int
	PNGOut   string
	PNGScale int
	Expect   string
}

func parseFlags() CLIFlags {
	var f CLIFlags
	flag.StringVar(&f.ROMPath, "rom", "", "path to ROM (.gb)")
	flag.IntVar(&f.Scale, "scale", 3, "window scale")
	flag.StringVar(&f.Title, "title", "gbemu", "window title")
	flag.BoolVar(&f.Trace, "trace", false, "CPU trace log")
	flag.BoolVar(&f.SaveRAM, "save", true, "persist battery RAM to ROM.sav on exit and load on start")

	flag.BoolVar(&f.Headless, "headless", false, "run without a window")
	flag.IntVar(&f.Frames, "frames", 300, "frames to run in headless mode")
	flag.StringVar(&f.PNGOut, "outpng", "", "write last framebuffer to PNG at path")
	flag.IntVar(&f.PNGScale, "pngscale", 1, "upscale factor applied to -outpng via a CatmullRom resample")
	flag.StringVar(&f.Expect, "expect", "", "assert framebuffer CRC32 (hex)")
	flag.Parse()
	return f
}

func runHeadless(m *emu.Machine, frames int, pngPath string, pngScale int, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}
	start := time.Now()
	var fb emu.FrameBuffer
	for i := 0; i < frames; i++ {
		fb = m.StepFrame()
	}
	dur := time.Since(start)

	pix := framebufferToRGBA(fb)
	crc := crc32.ChecksumIEEE(pix)
	fps := float64(frames) / dur.Seconds()
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x", frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := savePNG(pix, 160, 144, pngScale, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", pngPath)
	}
	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

// framebufferToRGBA renders the core's canonical 2-bit shades through the
// original DMG green palette; headless mode has no presentation layer, so
// it doesn't need the compat-palette machinery cmd/gbemu's window uses.
func framebufferToRGBA(fb emu.FrameBuffer) []byte {
	greens := [4][4]byte{
		{0xE0, 0xF8, 0xD0, 0xFF}, {0x88, 0xC0, 0x70, 0xFF}, {0x34, 0x68, 0x56, 0xFF}, {0x08, 0x18, 0x20, 0xFF},
	}
	pix := make([]byte, 160*144*4)
	i := 0
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			c := greens[fb[y][x]]
			copy(pix[i:i+4], c[:])
			i += 4
		}
	}
	return pix
}

// savePNG writes pix as a PNG, optionally upscaled by scale with a
// CatmullRom resample rather than a blocky nearest-neighbor blow-up.
func savePNG(pix []byte, w, h, scale int, path string) error {
	src := &image.RGBA{Pix: pix, Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}
	var out image.Image = src
	if scale > 1 {
		dst := image.NewRGBA(image.Rect(0, 0, w*scale, h*scale))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
		out = dst
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}

func main() {
	f := parseFlags()
	if f.ROMPath == "" {
		log.Fatal("-rom is required")
	}

	rom, err := os.ReadFile(f.ROMPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}
	if h, err := cart.ParseHeader(rom); err == nil {
		log.Printf("ROM: %q type=%s licensee=%s banks=%d ram=%dB", h.Title, h.CartTypeStr, h.Licensee, h.ROMBanks, h.RAMSizeBytes)
	}

	savPath := strings.TrimSuffix(f.ROMPath, filepath.Ext(f.ROMPath)) + ".sav"
	var save []byte
	if f.SaveRAM {
		if data, err := os.ReadFile(savPath); err == nil {
			save = data
		}
	}

	m, err := emu.New(rom, save, emu.Options{Trace: f.Trace})
	if err != nil {
		switch {
		case errors.Is(err, emu.ErrUnsupportedMBC):
			log.Fatalf("unsupported cartridge: %v", err)
		case errors.Is(err, emu.ErrInvalidROM):
			log.Fatalf("invalid ROM: %v", err)
		default:
			log.Fatalf("load cart: %v", err)
		}
	}

	if f.Headless {
		if err := runHeadless(m, f.Frames, f.PNGOut, f.PNGScale, f.Expect); err != nil {
			log.Fatal(err)
		}
		if f.SaveRAM {
			if data, ok := m.SaveBattery(); ok {
				if err := os.WriteFile(savPath, data, 0644); err == nil {
					log.Printf("wrote %s", savPath)
				}
			}
		}
		return
	}

	uiCfg := ui.Config{Title: f.Title, Scale: f.Scale}
	app := ui.NewApp(uiCfg, m)
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}

	if f.SaveRAM {
		if data, ok := m.SaveBattery(); ok {
			if err := os.WriteFile(savPath, data, 0644); err == nil {
				log.Printf("wrote %s", savPath)
			}
		}
	}
}
