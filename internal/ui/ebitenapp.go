package ui

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"dmgcore/internal/emu"
	"dmgcore/internal/joypad"
)

const sampleRate = 44100

// App is the ebiten host: it owns the window, keyboard polling, the audio
// ring feeding an ebiten audio.Player, and the current frame's RGBA
// conversion. The core (emu.Machine) never imports any of this.
type App struct {
	cfg         Config
	m           *emu.Machine
	tex         *ebiten.Image
	ring        *audioRing
	audioPlayer *audio.Player
	frame       emu.FrameBuffer

	paused    bool
	fast      bool
	paletteID int

	showMenu bool
	menuIdx  int // 0: Save, 1: Load, 2: Cycle palette, 3: Close
}

var keyButtons = []struct {
	key ebiten.Key
	btn joypad.Button
}{
	{ebiten.KeyRight, joypad.Right},
	{ebiten.KeyLeft, joypad.Left},
	{ebiten.KeyUp, joypad.Up},
	{ebiten.KeyDown, joypad.Down},
	{ebiten.KeyZ, joypad.A},
	{ebiten.KeyX, joypad.B},
	{ebiten.KeyEnter, joypad.Start},
	{ebiten.KeyShiftRight, joypad.Select},
}

func NewApp(cfg Config, m *emu.Machine) *App {
	cfg.Defaults()
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(160*cfg.Scale, 144*cfg.Scale)

	a := &App{cfg: cfg, m: m}
	if id, ok := cfg.PerROMCompatPalette[m.ROMPath()]; ok {
		a.paletteID = id
	} else {
		a.paletteID = autoCompatPalette(m.ROMTitle())
	}

	a.ring = newAudioRing(sampleRate / 10) // ~100ms of headroom
	m.SetAudioCallback(a.ring.Push)
	a.audioPlayer = a.setupAudio()
	return a
}

func (a *App) setupAudio() *audio.Player {
	ctx := audio.NewContext(sampleRate)
	player, err := ctx.NewPlayer(a.ring)
	if err != nil {
		return nil
	}
	bufMs := a.cfg.AudioBufferMs
	if a.cfg.AudioLowLatency {
		bufMs /= 2
	}
	player.SetBufferSize(time.Duration(bufMs) * time.Millisecond)
	player.Play()
	return player
}

func (a *App) Run() error { return ebiten.RunGame(a) }

func (a *App) Update() error {
	for _, kb := range keyButtons {
		if ebiten.IsKeyPressed(kb.key) {
			a.m.PressButton(kb.btn)
		} else {
			a.m.ReleaseButton(kb.btn)
		}
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)

	if a.paused && inpututil.IsKeyJustPressed(ebiten.KeyN) {
		a.frame = a.m.StepFrame()
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		a.showMenu = !a.showMenu
	}
	if a.showMenu {
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.menuIdx > 0 {
			a.menuIdx--
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.menuIdx < 3 {
			a.menuIdx++
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
			switch a.menuIdx {
			case 0:
				_ = a.m.SaveStateToFile("slot0.savestate")
			case 1:
				_ = a.m.LoadStateFromFile("slot0.savestate")
			case 2:
				a.paletteID = clampPaletteID(a.paletteID + 1)
				if a.cfg.PerROMCompatPalette != nil && a.m.ROMPath() != "" {
					a.cfg.PerROMCompatPalette[a.m.ROMPath()] = a.paletteID
				}
			case 3:
				a.showMenu = false
			}
		}
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		_ = a.saveScreenshot()
	}

	if !a.paused {
		n := 1
		if a.fast {
			n = 5
		}
		for i := 0; i < n; i++ {
			a.frame = a.m.StepFrame()
		}
	}
	return nil
}

func (a *App) toRGBA(fb emu.FrameBuffer) []byte {
	pix := make([]byte, 160*144*4)
	i := 0
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			c := paletteRGBA(a.paletteID, fb[y][x])
			copy(pix[i:i+4], c[:])
			i += 4
		}
	}
	return pix
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(160, 144)
	}
	a.tex.WritePixels(a.toRGBA(a.frame))
	screen.DrawImage(a.tex, nil)

	if a.showMenu {
		overlay := ebiten.NewImage(160, 144)
		overlay.Fill(color.RGBA{0, 0, 0, 128})
		screen.DrawImage(overlay, nil)
		lines := []string{
			"Menu:",
			"  Save state (slot 0)",
			"  Load state (slot 0)",
			fmt.Sprintf("  Palette: %s  (cycle)", compatPaletteNames[a.paletteID]),
			"  Close",
		}
		for i, s := range lines {
			prefix := "  "
			if i == a.menuIdx+1 {
				prefix = "> "
			}
			ebitenutil.DebugPrintAt(screen, prefix+s, 10, 10+i*14)
		}
	}
}

func (a *App) Layout(outW, outH int) (int, int) { return 160, 144 }

func (a *App) saveScreenshot() error {
	img := &image.RGBA{
		Pix:    a.toRGBA(a.frame),
		Stride: 4 * 160,
		Rect:   image.Rect(0, 0, 160, 144),
	}
	ts := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("screenshot_%s.png", ts)
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
