package interrupt

import "testing"

func TestController_RequestSetsIFBit(t *testing.T) {
	c := New()
	c.Request(Timer)
	if got := c.ReadIF(); got != 0xE0|byte(1<<Timer) {
		t.Fatalf("ReadIF got %#02x want %#02x", got, 0xE0|byte(1<<Timer))
	}
}

func TestController_ClearClearsOnlyThatBit(t *testing.T) {
	c := New()
	c.Request(VBlank)
	c.Request(Serial)
	c.Clear(VBlank)
	if got := c.ReadIF(); got != 0xE0|byte(1<<Serial) {
		t.Fatalf("ReadIF got %#02x want %#02x", got, 0xE0|byte(1<<Serial))
	}
}

func TestController_WriteIFMasksToFiveBits(t *testing.T) {
	c := New()
	c.WriteIF(0xFF)
	if got := c.ReadIF(); got != 0xFF {
		t.Fatalf("ReadIF got %#02x want FF (0xE0 | 0x1F)", got)
	}
	c.WriteIF(0x00)
	if got := c.ReadIF(); got != 0xE0 {
		t.Fatalf("ReadIF got %#02x want E0 after clearing all bits", got)
	}
}

func TestController_PendingMasksEnableAgainstFlag(t *testing.T) {
	c := New()
	c.Request(VBlank)
	c.Request(Timer)
	c.WriteIE(byte(1 << Timer)) // only Timer enabled

	if got := c.Pending(); got != byte(1<<Timer) {
		t.Fatalf("Pending got %#02x want %#02x (VBlank requested but not enabled)", got, byte(1<<Timer))
	}
}

func TestController_ReadIEReturnsAllEightBitsRaw(t *testing.T) {
	c := New()
	c.WriteIE(0xFF)
	if got := c.ReadIE(); got != 0xFF {
		t.Fatalf("ReadIE got %#02x want FF", got)
	}
}

func TestBit_VectorAddresses(t *testing.T) {
	cases := []struct {
		b    Bit
		want uint16
	}{
		{VBlank, 0x40},
		{LCD, 0x48},
		{Timer, 0x50},
		{Serial, 0x58},
		{Joypad, 0x60},
	}
	for _, tc := range cases {
		if got := tc.b.Vector(); got != tc.want {
			t.Fatalf("Bit(%d).Vector() got %#04x want %#04x", tc.b, got, tc.want)
		}
	}
}

func TestController_SaveLoadStateRoundTrip(t *testing.T) {
	c := New()
	c.Request(LCD)
	c.Request(Joypad)
	c.WriteIE(0x1F)

	data := c.SaveState()

	d := New()
	d.LoadState(data)
	if d.ReadIF() != c.ReadIF() || d.ReadIE() != c.ReadIE() {
		t.Fatalf("state did not round-trip: IF %#02x/%#02x IE %#02x/%#02x",
			d.ReadIF(), c.ReadIF(), d.ReadIE(), c.ReadIE())
	}
}

func TestController_LoadStateIgnoresShortData(t *testing.T) {
	c := New()
	c.Request(VBlank)
	before := c.ReadIF()
	c.LoadState([]byte{0x01})
	if c.ReadIF() != before {
		t.Fatalf("LoadState with short data mutated controller: got %#02x want %#02x", c.ReadIF(), before)
	}
}
