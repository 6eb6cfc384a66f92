// cpurunner drives the core headlessly against a test ROM, watching its
// serial output for blargg/mooneye-style PASS/FAIL markers and optionally
// hashing rendered frames for golden-frame regression checks.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash"

	"dmgcore/internal/cpu"
	"dmgcore/internal/emu"
)

type writerFunc func(p []byte) (n int, err error)

func (f writerFunc) Write(p []byte) (n int, err error) { return f(p) }

func main() {
	romPath := flag.String("rom", "", "path to ROM (.gb)")
	frames := flag.Int("frames", 1800, "max frames to run")
	trace := flag.Bool("trace", false, "print PC and registers per instruction")
	until := flag.String("until", "Passed", "stop when serial output contains this substring (case-insensitive); empty to disable")
	auto := flag.Bool("auto", false, "auto-detect 'Passed' or 'Failed N tests' in serial output and exit with code 0/1")
	timeout := flag.Duration("timeout", 0, "optional wall-clock timeout (e.g. 30s, 2m); 0 disables")
	traceOnFail := flag.Bool("traceOnFail", false, "when -auto detects failure, print a recent trace window")
	traceWindow := flag.Int("traceWindow", 200, "number of recent instructions to include in traceOnFail dump")
	serialWindow := flag.Int("serialWindow", 8192, "number of recent serial bytes to retain for diagnostics on fail")
	hashEvery := flag.Int("hashframes", 0, "if >0, hash the rendered frame every N frames with xxhash for golden-frame comparison")
	expectHash := flag.String("expecthash", "", "expected xxhash (hex) of the final hashed frame; mismatch exits 3")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("-rom is required")
	}
	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}

	var ser strings.Builder
	serRing := newByteRing(max(*serialWindow, 256))
	sink := io.MultiWriter(os.Stdout, &ser, serRing)

	m, err := emu.New(rom, nil, emu.Options{Debugger: *trace || *traceOnFail})
	if err != nil {
		log.Fatalf("construct core: %v", err)
	}
	m.SetSerialWriter(sink)

	var traceRing *traceRing
	if *traceOnFail {
		traceRing = newTraceRing(*traceWindow)
	}
	m.SetDebugHook(func(c *cpu.CPU) {
		if *trace {
			fmt.Printf("PC=%04X A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t\n",
				c.PC, c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L, c.SP, c.IME)
		}
		if traceRing != nil {
			traceRing.push(c)
		}
	})

	failRe := regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)
	stageRe := regexp.MustCompile(`\b(\d{2}:\d{2})\b`)
	lastStage := ""

	start := time.Now()
	var deadline time.Time
	if *timeout > 0 {
		deadline = start.Add(*timeout)
	}

	var lastHash uint64
	for i := 0; i < *frames; i++ {
		if *hashEvery > 0 && i%*hashEvery == 0 {
			fb := m.StepFrame()
			lastHash = hashFrame(fb)
		} else {
			m.StepFrameNoRender()
		}

		s := ser.String()
		if mm := stageRe.FindAllString(s, -1); len(mm) > 0 {
			lastStage = mm[len(mm)-1]
		}
		if *auto && strings.Contains(strings.ToLower(s), "passed") {
			report(start, i+1, lastStage)
			os.Exit(0)
		}
		if *auto {
			if mm := failRe.FindStringSubmatch(s); mm != nil {
				fmt.Printf("\nDetected %s in serial output.\n", mm[0])
				if traceRing != nil {
					traceRing.print()
				}
				serRing.print()
				report(start, i+1, lastStage)
				os.Exit(1)
			}
		}
		if !*auto && *until != "" && strings.Contains(strings.ToLower(s), strings.ToLower(*until)) {
			fmt.Printf("\nDetected %q in serial output.\n", *until)
			report(start, i+1, lastStage)
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			fmt.Printf("\nTimeout after %s.\n", time.Since(start).Truncate(time.Millisecond))
			report(start, i+1, lastStage)
			os.Exit(2)
		}
	}

	report(start, *frames, lastStage)
	if *expectHash != "" {
		want, err := strconv.ParseUint(*expectHash, 16, 64)
		if err != nil {
			log.Fatalf("parse -expecthash: %v", err)
		}
		if lastHash != want {
			fmt.Printf("frame hash mismatch: got %016x want %016x\n", lastHash, want)
			os.Exit(3)
		}
	}
}

func report(start time.Time, frames int, lastStage string) {
	if lastStage != "" {
		fmt.Printf("Last stage seen: %s\n", lastStage)
	}
	fmt.Printf("Done: frames=%d elapsed=%s\n", frames, time.Since(start).Truncate(time.Millisecond))
}

// hashFrame reduces a rendered frame to a single 64-bit digest via xxhash,
// cheap enough to call every frame for golden-frame regression checks.
func hashFrame(fb emu.FrameBuffer) uint64 {
	h := xxhash.New()
	var rowBytes [160]byte
	for _, row := range fb {
		for x, shade := range row {
			rowBytes[x] = byte(shade)
		}
		_, _ = h.Write(rowBytes[:])
	}
	return h.Sum64()
}

// byteRing retains the last N bytes written to it for post-mortem printing.
type byteRing struct {
	buf  []byte
	idx  int
	fill int
}

func newByteRing(n int) *byteRing { return &byteRing{buf: make([]byte, n)} }

func (r *byteRing) Write(p []byte) (int, error) {
	for _, b := range p {
		r.buf[r.idx] = b
		r.idx = (r.idx + 1) % len(r.buf)
		if r.fill < len(r.buf) {
			r.fill++
		}
	}
	return len(p), nil
}

func (r *byteRing) print() {
	if r.fill == 0 {
		return
	}
	fmt.Printf("\n--- recent serial (last %d bytes) ---\n", r.fill)
	start := (r.idx - r.fill + len(r.buf)) % len(r.buf)
	for j := 0; j < r.fill; j++ {
		fmt.Printf("%c", r.buf[(start+j)%len(r.buf)])
	}
	fmt.Printf("\n--- end serial ---\n")
}

// traceEntry snapshots CPU state just before one instruction executes.
type traceEntry struct {
	pc                     uint16
	a, f, b, c, d, e, h, l byte
	sp                     uint16
	ime                    bool
}

type traceRing struct {
	buf  []traceEntry
	idx  int
	fill int
}

func newTraceRing(n int) *traceRing {
	if n <= 0 {
		n = 1
	}
	return &traceRing{buf: make([]traceEntry, n)}
}

func (r *traceRing) push(c *cpu.CPU) {
	r.buf[r.idx] = traceEntry{pc: c.PC, a: c.A, f: c.F, b: c.B, c: c.C, d: c.D, e: c.E, h: c.H, l: c.L, sp: c.SP, ime: c.IME}
	r.idx = (r.idx + 1) % len(r.buf)
	if r.fill < len(r.buf) {
		r.fill++
	}
}

func (r *traceRing) print() {
	if r.fill == 0 {
		return
	}
	fmt.Printf("\n--- recent trace (last %d instructions) ---\n", r.fill)
	start := (r.idx - r.fill + len(r.buf)) % len(r.buf)
	for j := 0; j < r.fill; j++ {
		te := r.buf[(start+j)%len(r.buf)]
		fmt.Printf("PC=%04X A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t\n",
			te.pc, te.a, te.f, te.b, te.c, te.d, te.e, te.h, te.l, te.sp, te.ime)
	}
	fmt.Printf("--- end trace ---\n")
}
