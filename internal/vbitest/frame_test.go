package vbitest

import (
	"bytes"
	"testing"

	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/sampling"
	"github.com/zsiec/rawvbi/service"
)

func preset(t *testing.T, name string) sampling.Parameters {
	t.Helper()
	p, ok := sampling.Preset(name)
	if !ok {
		t.Fatalf("no preset %q", name)
	}
	return p
}

func TestRow(t *testing.T) {
	t.Parallel()

	pal := preset(t, "pal-13.5")
	line21 := preset(t, "line21")

	tests := []struct {
		name string
		p    sampling.Parameters
		line int
		row  int
		ok   bool
	}{
		{"first line", pal, 6, 0, true},
		{"last line of field 1", pal, 22, 16, true},
		{"first line of field 2", pal, 318, 17, true},
		{"between fields", pal, 100, 0, false},
		{"after capture", pal, 335, 0, false},
		{"interlaced field 1", line21, 21, 0, true},
		{"interlaced field 2", line21, 284, 1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			row, ok := Row(tc.p, tc.line)
			if ok != tc.ok || (ok && row != tc.row) {
				t.Errorf("Row(%d) = %d, %v, want %d, %v", tc.line, row, ok, tc.row, tc.ok)
			}
		})
	}
}

func TestStartFor(t *testing.T) {
	t.Parallel()

	p := preset(t, "pal-13.5")
	got := StartFor(p, service.Find(service.VPS))
	// 12.5 us after 0H, capture starting 128 samples in.
	want := 12.5e-6 - 128/13.5e6
	if d := got - want; d > 1e-12 || d < -1e-12 {
		t.Errorf("StartFor = %g, want %g", got, want)
	}

	p.Offset = 1000
	if got := StartFor(p, service.Find(service.VPS)); got != 0 {
		t.Errorf("StartFor after the service = %g, want 0", got)
	}
}

func TestFrameBlank(t *testing.T) {
	t.Parallel()

	p := preset(t, "pal-13.5")
	frame, err := Frame(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != p.FrameSize() {
		t.Fatalf("len = %d, want %d", len(frame), p.FrameSize())
	}
	if !bytes.Equal(frame[:p.BytesPerLine], frame[len(frame)-p.BytesPerLine:]) {
		t.Error("blank rows differ")
	}
}

func TestFrameErrors(t *testing.T) {
	t.Parallel()

	p := preset(t, "pal-13.5")
	tests := []struct {
		name string
		tx   Transmission
	}{
		{"negative row", Transmission{Row: -1, Service: service.VPS}},
		{"row past frame", Transmission{Row: p.LineCount(), Service: service.VPS}},
		{"service set", Transmission{Row: 0, Service: service.VPS | service.WSS625, Payload: make([]byte, 13)}},
		{"no payload", Transmission{Row: 0, Service: service.TeletextB}},
		{"short payload", Transmission{Row: 0, Service: service.VPS, Payload: make([]byte, 12)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Frame(p, []Transmission{tc.tx}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewGeneratorServices(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(preset(t, "pal-13.5"), service.VPS|service.TeletextBL10_625|service.VBI625, nil)
	if err != nil {
		t.Fatal(err)
	}
	// The System B entry covers Level 1.5 and is carried along with it.
	if got, want := g.Services(), service.VPS|service.TeletextB; got != want {
		t.Errorf("Services = %v, want %v", got, want)
	}

	if _, err := NewGenerator(preset(t, "pal-13.5"), service.Caption525, nil); err == nil {
		t.Error("expected error for services the geometry cannot carry")
	}
	if _, err := NewGenerator(sampling.Parameters{}, service.VPS, nil); err == nil {
		t.Error("expected error for invalid geometry")
	}
}

func decoder(t *testing.T, p sampling.Parameters, ids service.ID) *rawdec.Decoder {
	t.Helper()
	d, err := rawdec.New(p, rawdec.WithServices(ids))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestGeneratorCaptionsDecode(t *testing.T) {
	t.Parallel()

	p := preset(t, "ntsc-13.5")
	pairs := [][2]byte{{0x94, 0x2C}, {0xC1, 0xC2}}
	g, err := NewGenerator(p, service.Caption525, pairs)
	if err != nil {
		t.Fatal(err)
	}
	d := decoder(t, p, service.Caption525)

	for i := range 4 {
		frame, err := g.Next()
		if err != nil {
			t.Fatal(err)
		}
		recs, err := d.Decode(frame, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 {
			t.Fatalf("frame %d: %d records, want 1", i, len(recs))
		}
		want := pairs[i%len(pairs)]
		if recs[0].Line != 21 || !bytes.Equal(recs[0].Data, want[:]) {
			t.Errorf("frame %d: line %d data %x, want line 21 data %x", i, recs[0].Line, recs[0].Data, want)
		}
	}
}

func TestGeneratorVPSDecode(t *testing.T) {
	t.Parallel()

	p := preset(t, "pal-13.5")
	g, err := NewGenerator(p, service.VPS, nil)
	if err != nil {
		t.Fatal(err)
	}
	d := decoder(t, p, service.VPS)

	frame, err := g.Next()
	if err != nil {
		t.Fatal(err)
	}
	recs, err := d.Decode(frame, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Line != 16 {
		t.Fatalf("records = %+v, want one on line 16", recs)
	}
	for k, b := range recs[0].Data {
		if b != byte(7*k) {
			t.Fatalf("byte %d = %#x, want %#x", k, b, byte(7*k))
		}
	}
}
