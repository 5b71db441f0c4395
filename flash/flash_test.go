package flash

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/dfuboot/pkg"
)

func TestRegion_Contains(t *testing.T) {
	r := DefaultRegion()
	tests := []struct {
		name string
		addr uint32
		want bool
	}{
		{"below entry", DefaultEntry - 1, false},
		{"entry", DefaultEntry, true},
		{"middle", 0x6000, true},
		{"last byte", DefaultEnd - 1, true},
		{"end", DefaultEnd, false},
		{"far", 0xFFFFFFFF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Contains(tt.addr); got != tt.want {
				t.Errorf("Contains(0x%X) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestRegion_Clip(t *testing.T) {
	r := DefaultRegion()
	tests := []struct {
		addr uint32
		n    int
		want int
	}{
		{DefaultEntry, 64, 64},
		{DefaultEnd - 16, 64, 16},
		{DefaultEnd, 64, 0},
		{DefaultEnd - 1, 1, 1},
	}

	for _, tt := range tests {
		if got := r.Clip(tt.addr, tt.n); got != tt.want {
			t.Errorf("Clip(0x%X, %d) = %d, want %d", tt.addr, tt.n, got, tt.want)
		}
	}
}

func TestRegion_Geometry(t *testing.T) {
	r := DefaultRegion()
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if got := r.Size(); got != 0x4000 {
		t.Errorf("Size() = 0x%X, want 0x4000", got)
	}
	if got := r.Pages(); got != 256 {
		t.Errorf("Pages() = %d, want 256", got)
	}
	if got := r.PageBase(0x4047); got != 0x4040 {
		t.Errorf("PageBase(0x4047) = 0x%X, want 0x4040", got)
	}
	if got, want := r.String(), "0x4000/256*064Bg"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRegion_Validate(t *testing.T) {
	tests := []struct {
		name   string
		region Region
	}{
		{"zero page", Region{Entry: 0x4000, End: 0x8000, BlockSize: 32}},
		{"inverted", Region{Entry: 0x8000, End: 0x4000, PageSize: 64, BlockSize: 32}},
		{"unaligned", Region{Entry: 0x4010, End: 0x8000, PageSize: 64, BlockSize: 32}},
		{"page not multiple of block", Region{Entry: 0x4000, End: 0x8000, PageSize: 64, BlockSize: 48}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.region.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestEmulated_Erased(t *testing.T) {
	mem := NewEmulated(DefaultRegion())
	buf := make([]byte, 128)
	if err := mem.Read(DefaultEntry, buf); err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if !Blank(buf) {
		t.Error("new memory is not blank")
	}
}

func TestEmulated_WriteRead(t *testing.T) {
	mem := NewEmulated(DefaultRegion())
	data := []byte{0x01, 0x02, 0x03, 0x04, 0xA5}

	if err := mem.Write(0x4000, data); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	got := make([]byte, len(data))
	if err := mem.Read(0x4000, got); err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read() = %X, want %X", got, data)
	}

	_, writes := mem.Counts()
	if writes != 1 {
		t.Errorf("writes = %d, want 1", writes)
	}
}

func TestEmulated_WriteClearsBitsOnly(t *testing.T) {
	mem := NewEmulated(DefaultRegion())
	if err := mem.Write(0x4000, []byte{0xF0}); err != nil {
		t.Fatal(err)
	}
	if err := mem.Write(0x4000, []byte{0x3C}); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 1)
	if err := mem.Read(0x4000, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x30 {
		t.Errorf("overwritten byte = 0x%02X, want 0x30", got[0])
	}
}

func TestEmulated_EraseIdempotent(t *testing.T) {
	mem := NewEmulated(DefaultRegion())
	page := make([]byte, DefaultPageSize)

	for i := 0; i < 2; i++ {
		if err := mem.Erase(0x4040); err != nil {
			t.Fatalf("Erase() pass %d = %v", i, err)
		}
		if err := mem.Read(0x4040, page); err != nil {
			t.Fatal(err)
		}
		if !Blank(page) {
			t.Errorf("page not blank after erase pass %d", i)
		}
	}

	if err := mem.Write(0x4040, []byte{0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := mem.Erase(0x4040); err != nil {
		t.Fatal(err)
	}
	if err := mem.Read(0x4040, page); err != nil {
		t.Fatal(err)
	}
	if !Blank(page) {
		t.Error("written page not blank after erase")
	}
}

func TestEmulated_EraseLeavesNeighbours(t *testing.T) {
	mem := NewEmulated(DefaultRegion())
	if err := mem.Write(0x4000, []byte{0x11}); err != nil {
		t.Fatal(err)
	}
	if err := mem.Write(0x4080, []byte{0x22}); err != nil {
		t.Fatal(err)
	}
	if err := mem.Erase(0x4040); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 1)
	for addr, want := range map[uint32]byte{0x4000: 0x11, 0x4080: 0x22} {
		if err := mem.Read(addr, got); err != nil {
			t.Fatal(err)
		}
		if got[0] != want {
			t.Errorf("byte at 0x%X = 0x%02X, want 0x%02X", addr, got[0], want)
		}
	}
}

func TestEmulated_Errors(t *testing.T) {
	mem := NewEmulated(DefaultRegion())
	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{"unaligned erase", func() error { return mem.Erase(0x4001) }, pkg.ErrAlignment},
		{"erase past end", func() error { return mem.Erase(DefaultEnd) }, pkg.ErrOutOfRange},
		{"oversized write", func() error { return mem.Write(0x4000, make([]byte, DefaultBlockSize+1)) }, pkg.ErrBlockSize},
		{"write past end", func() error { return mem.Write(DefaultEnd-1, []byte{0, 0}) }, pkg.ErrOutOfRange},
		{"read past end", func() error { return mem.Read(DefaultEnd-1, make([]byte, 2)) }, pkg.ErrOutOfRange},
		{"commit without stage", mem.Commit, pkg.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEmulated_StageCommit(t *testing.T) {
	mem := NewEmulated(DefaultRegion())
	if err := mem.Stage(0x4100, []byte{0xAA, 0xBB}); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 2)
	if err := mem.Read(0x4100, got); err != nil {
		t.Fatal(err)
	}
	if !Blank(got) {
		t.Errorf("staged bytes visible before commit: %X", got)
	}

	if err := mem.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := mem.Read(0x4100, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Errorf("committed bytes = %X, want AABB", got)
	}
}

// fakeBlockDevice is a RAM block device with 256-byte erase blocks.
type fakeBlockDevice struct {
	data      []byte
	erased    []int64
	failWrite bool
}

func (f *fakeBlockDevice) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, f.data[off:]), nil
}

func (f *fakeBlockDevice) WriteAt(p []byte, off int64) (int, error) {
	if f.failWrite {
		return 0, errors.New("device busy")
	}
	return copy(f.data[off:], p), nil
}

func (f *fakeBlockDevice) EraseBlockSize() int64 { return 256 }

func (f *fakeBlockDevice) EraseBlocks(start, length int64) error {
	for b := start; b < start+length; b++ {
		f.erased = append(f.erased, b)
		for i := b * 256; i < (b+1)*256; i++ {
			f.data[i] = ErasedValue
		}
	}
	return nil
}

func TestBlock(t *testing.T) {
	dev := &fakeBlockDevice{data: make([]byte, 1024)}
	mem := NewBlock(dev, 0x4000)

	if err := mem.Erase(0x4100); err != nil {
		t.Fatalf("Erase() = %v", err)
	}
	if len(dev.erased) != 1 || dev.erased[0] != 1 {
		t.Errorf("erased blocks = %v, want [1]", dev.erased)
	}

	if err := mem.Write(0x4104, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	got := make([]byte, 3)
	if err := mem.Read(0x4104, got); err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Read() = %v, want [1 2 3]", got)
	}

	if err := mem.Read(0x3FFF, got); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Read below base error = %v, want %v", err, pkg.ErrOutOfRange)
	}

	dev.failWrite = true
	if err := mem.Write(0x4000, []byte{0}); !errors.Is(err, pkg.ErrWriteFailed) {
		t.Errorf("failing Write error = %v, want %v", err, pkg.ErrWriteFailed)
	}
}

func TestParseLayout(t *testing.T) {
	tests := []struct {
		name    string
		layout  string
		want    Region
		wantErr bool
	}{
		{
			name:   "interface string",
			layout: "@Internal Flash /0x4000/256*064Bg",
			want:   DefaultRegion(),
		},
		{
			name:   "region string",
			layout: DefaultRegion().String(),
			want:   DefaultRegion(),
		},
		{
			name:   "kilobyte pages",
			layout: "@Internal Flash  /0x08004000/06*016Kg,1*064Kg",
			want:   Region{Entry: 0x08004000, End: 0x0801C000, PageSize: 16 << 10, BlockSize: DefaultBlockSize},
		},
		{
			name:   "small pages",
			layout: "@Flash /0x0800/16*016Bg",
			want:   Region{Entry: 0x0800, End: 0x0900, PageSize: 16, BlockSize: 16},
		},
		{name: "no address", layout: "@Internal Flash", wantErr: true},
		{name: "bad unit", layout: "@Flash /0x4000/256*064Xg", wantErr: true},
		{name: "truncated", layout: "@Flash /0x4000/256", wantErr: true},
		{name: "no pages", layout: "@Flash /0x4000/0*064Bg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLayout(tt.layout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLayout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLayout() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
