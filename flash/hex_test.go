package flash

import (
	"bytes"
	"strings"
	"testing"
)

// 16 bytes 00..0F at 0x4000 plus 4 bytes at 0x0000 outside the region.
const testImage = ":04000000DEADBEEFC4\n" +
	":10400000000102030405060708090A0B0C0D0E0F38\n" +
	":00000001FF\n"

func TestParseHex_ClipsToRegion(t *testing.T) {
	segs, err := ParseHex(strings.NewReader(testImage), DefaultRegion())
	if err != nil {
		t.Fatalf("ParseHex() = %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("len(segs) = %d, want 1", len(segs))
	}
	if segs[0].Address != 0x4000 {
		t.Errorf("Address = 0x%X, want 0x4000", segs[0].Address)
	}
	for i, b := range segs[0].Data {
		if b != byte(i) {
			t.Fatalf("Data[%d] = 0x%02X, want 0x%02X", i, b, i)
		}
	}
}

func TestParseHex_Invalid(t *testing.T) {
	if _, err := ParseHex(strings.NewReader(":zz\n"), DefaultRegion()); err == nil {
		t.Error("ParseHex() = nil, want error")
	}
}

func TestLoadHex(t *testing.T) {
	mem := NewEmulated(DefaultRegion())
	// Dirty the page first so LoadHex must erase it.
	if err := mem.Write(0x4000, make([]byte, DefaultBlockSize)); err != nil {
		t.Fatal(err)
	}

	n, err := LoadHex(strings.NewReader(testImage), mem, DefaultRegion())
	if err != nil {
		t.Fatalf("LoadHex() = %v", err)
	}
	if n != 16 {
		t.Errorf("LoadHex() = %d bytes, want 16", n)
	}

	got := make([]byte, 32)
	if err := mem.Read(0x4000, got); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = 0x%02X, want 0x%02X", i, got[i], i)
		}
	}
	if !Blank(got[16:]) {
		t.Errorf("bytes after image not erased: %X", got[16:])
	}
}

func TestDumpHex_RoundTrip(t *testing.T) {
	region := DefaultRegion()
	src := NewEmulated(region)
	pattern := make([]byte, 100)
	for i := range pattern {
		pattern[i] = byte(i * 7)
	}
	for off := 0; off < len(pattern); off += DefaultBlockSize {
		end := off + DefaultBlockSize
		if end > len(pattern) {
			end = len(pattern)
		}
		if err := src.Write(0x5000+uint32(off), pattern[off:end]); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := DumpHex(&buf, src, region); err != nil {
		t.Fatalf("DumpHex() = %v", err)
	}

	dst := NewEmulated(region)
	if _, err := LoadHex(&buf, dst, region); err != nil {
		t.Fatalf("LoadHex() = %v", err)
	}

	want := make([]byte, region.Size())
	got := make([]byte, region.Size())
	if err := src.Read(region.Entry, want); err != nil {
		t.Fatal(err)
	}
	if err := dst.Read(region.Entry, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Error("memory differs after hex round trip")
	}
}

func TestReadSegments_MergesPages(t *testing.T) {
	region := DefaultRegion()
	mem := NewEmulated(region)
	for _, addr := range []uint32{0x4000, 0x4040, 0x4100} {
		if err := mem.Write(addr, []byte{0x00}); err != nil {
			t.Fatal(err)
		}
	}

	segs, err := ReadSegments(mem, region)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	if segs[0].Address != 0x4000 || len(segs[0].Data) != 128 {
		t.Errorf("segs[0] = 0x%X/%d, want 0x4000/128", segs[0].Address, len(segs[0].Data))
	}
	if segs[1].Address != 0x4100 || len(segs[1].Data) != 64 {
		t.Errorf("segs[1] = 0x%X/%d, want 0x4100/64", segs[1].Address, len(segs[1].Data))
	}
}
