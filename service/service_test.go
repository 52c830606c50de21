package service

import (
	"errors"
	"testing"

	"github.com/zsiec/rawvbi/sampling"
)

func palGeometry() sampling.Parameters {
	return sampling.Parameters{
		Scanning:     625,
		Format:       sampling.YUV420,
		SamplingRate: 13_500_000,
		BytesPerLine: 720,
		Start:        [2]int{7, 320},
		Count:        [2]int{17, 17},
		Synchronous:  true,
	}
}

func ntscGeometry() sampling.Parameters {
	return sampling.Parameters{
		Scanning:     525,
		Format:       sampling.YUV420,
		SamplingRate: 13_500_000,
		BytesPerLine: 720,
		Start:        [2]int{10, 272},
		Count:        [2]int{12, 12},
		Synchronous:  true,
	}
}

func TestCatalogUniqueIDs(t *testing.T) {
	t.Parallel()

	seen := map[ID]bool{}
	for _, d := range Catalog() {
		if seen[d.ID] {
			t.Errorf("duplicate id %#x (%s)", uint32(d.ID), d.Label)
		}
		seen[d.ID] = true
		if d.Label == "" {
			t.Errorf("id %#x has no label", uint32(d.ID))
		}
		if d.CRIBits > 32 || d.FRCBits > 32 {
			t.Errorf("%s: CRI/FRC wider than 32 bits", d.Label)
		}
	}
}

func TestDescriptorCRIAndFRC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id      ID
		cri     uint32
		mask    uint32
		frc     uint32
		payload int
	}{
		{TeletextBL10_625, 0x2AAAB, 0x3FF, 0x24, 42},
		{Caption625F1, 0x1554, 0x1FF, 0x1, 2},
		{Caption525F1, 0x03, 0x0F, 0, 2},
		{VPS, 0xAAAA8A99, 0xFFFFFF, 0, 13},
		{WSS625, 0x8E3C783E, 0x2499339C, 0, 2},
		{Caption525_2x, 0x0554, 0xFF, 0xED, 4},
	}
	for _, tc := range tests {
		d := Find(tc.id)
		if d == nil {
			t.Fatalf("Find(%#x) = nil", uint32(tc.id))
		}
		cri, mask := d.CRI()
		if cri != tc.cri || mask != tc.mask {
			t.Errorf("%s: CRI() = %#x/%#x, want %#x/%#x", d.Label, cri, mask, tc.cri, tc.mask)
		}
		if got := d.FRC(); got != tc.frc {
			t.Errorf("%s: FRC() = %#x, want %#x", d.Label, got, tc.frc)
		}
		if got := d.PayloadBytes(); got != tc.payload {
			t.Errorf("%s: PayloadBytes() = %d, want %d", d.Label, got, tc.payload)
		}
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   ID
		want string
	}{
		{Caption525, "Closed Caption 525"},
		{Caption625, "Closed Caption 625"},
		{VPS | VPSF2, "Video Program System"},
		{TeletextBL25_625, "Teletext System B 625 Level 2.5"},
		{TeletextBD525, "Teletext System B/D"},
		{TeletextB, "Teletext System B, 625"},
		{WSS625, "Wide Screen Signalling 625"},
		{WSSCPR1204, ""},
	}
	for _, tc := range tests {
		if got := Name(tc.id); got != tc.want {
			t.Errorf("Name(%#x) = %q, want %q", uint32(tc.id), got, tc.want)
		}
	}
}

func TestIDString(t *testing.T) {
	t.Parallel()

	if got := ID(0).String(); got != "none" {
		t.Errorf("String(0) = %q", got)
	}
	got := (VPS | WSS625).String()
	want := "Video Program System, Wide Screen Signalling 625"
	if got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestSharesJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b ID
		want bool
	}{
		{TeletextBL10_625, TeletextBL25_625, true},
		{Caption525F1, Caption525F2, true},
		{Caption625F1, Caption625F2, true},
		{VPS, VPSF2, true},
		{0, WSS625, false},
		{VPS, WSS625, false},
		{Caption525F1, Caption625F1, false},
		{TeletextB, VPS, false},
	}
	for _, tc := range tests {
		if got := SharesJob(tc.a, tc.b); got != tc.want {
			t.Errorf("SharesJob(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		geom   func() sampling.Parameters
		id     ID
		strict int
		want   bool
	}{
		{"teletext L10 covered", palGeometry, TeletextBL10_625, Relaxed, true},
		{"teletext B needs line 6", palGeometry, TeletextB, Relaxed, false},
		{"teletext B lenient ignores lines", palGeometry, TeletextB, Lenient, true},
		{"wrong standard", ntscGeometry, TeletextBL10_625, Lenient, false},
		{"caption 525 ok", ntscGeometry, Caption525F1, Strict, true},
		{"caption 525 needs line numbers", func() sampling.Parameters {
			p := ntscGeometry()
			p.Start = [2]int{0, 0}
			return p
		}, Caption525F1, Lenient, false},
		{"caption 525 f2 needs field order", func() sampling.Parameters {
			p := ntscGeometry()
			p.Synchronous = false
			return p
		}, Caption525F2, Lenient, false},
		{"rate too low", func() sampling.Parameters {
			p := palGeometry()
			p.SamplingRate = 8_000_000
			return p
		}, TeletextBL10_625, Lenient, false},
		{"wss needs only 1x", func() sampling.Parameters {
			p := palGeometry()
			p.Start[0] = 23
			p.Count[0] = 1
			p.SamplingRate = 5_000_000
			p.BytesPerLine = 300
			return p
		}, WSS625, Strict, true},
		{"line too short", func() sampling.Parameters {
			p := palGeometry()
			p.BytesPerLine = 600
			return p
		}, TeletextBL10_625, Lenient, false},
		{"field not captured", func() sampling.Parameters {
			p := palGeometry()
			p.Count[1] = 0
			return p
		}, TeletextBL10_625, Lenient, false},
		{"offset window fits", func() sampling.Parameters {
			p := palGeometry()
			p.Offset = 128
			return p
		}, TeletextBL10_625, Strict, true},
		{"offset starts too late", func() sampling.Parameters {
			p := palGeometry()
			p.Offset = 200
			return p
		}, TeletextBL10_625, Strict, false},
		{"offset ignored when lenient", func() sampling.Parameters {
			p := palGeometry()
			p.Offset = 200
			return p
		}, TeletextBL10_625, Lenient, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Check(tc.geom(), Find(tc.id), tc.strict)
			if got := err == nil; got != tc.want {
				t.Fatalf("Check = %v, want permitted=%v", err, tc.want)
			}
			if err != nil && !errors.Is(err, ErrNotPermitted) {
				t.Errorf("error %v does not wrap ErrNotPermitted", err)
			}
		})
	}
}

func TestRelaxedInvertedRange(t *testing.T) {
	t.Parallel()

	d := *Find(TeletextBL10_625)
	d.First = [2]int{30, 340}
	d.Last = [2]int{25, 338}
	p := palGeometry()

	if err := Check(p, &d, Relaxed); err != nil {
		t.Errorf("relaxed: %v", err)
	}
	if err := Check(p, &d, Strict); err == nil {
		t.Error("strict accepted an uncovered inverted range")
	}
}

func TestPermitsIdempotent(t *testing.T) {
	t.Parallel()

	geoms := []sampling.Parameters{palGeometry(), ntscGeometry()}
	for _, p := range geoms {
		for _, d := range Catalog() {
			for strict := 0; strict <= 2; strict++ {
				a := Permits(p, &d, strict, nil)
				b := Permits(p, &d, strict, nil)
				if a != b {
					t.Fatalf("%s strict %d: %v then %v", d.Label, strict, a, b)
				}
			}
		}
	}
}

func TestFilterTeletextScenario(t *testing.T) {
	t.Parallel()

	p := palGeometry()
	if _, err := sampling.Validate(p); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := Filter(p, TeletextB, Relaxed, nil)
	if got&TeletextB == 0 {
		t.Fatalf("Filter = %v, want teletext admitted", got)
	}
	if got != TeletextBL10_625 {
		t.Errorf("Filter = %#x, want level 1.5 only", uint32(got))
	}
	if !Permits(p, Find(TeletextBL10_625), Relaxed, nil) {
		t.Error("level 1.5 not permitted")
	}
}

func TestParseList(t *testing.T) {
	t.Parallel()

	got, err := ParseList("teletext, vps ,wss")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if want := TeletextB | VPS | WSS625; got != want {
		t.Errorf("ParseList = %#x, want %#x", uint32(got), uint32(want))
	}
	if _, err := ParseList("teletext,smpte"); err == nil {
		t.Error("ParseList accepted an unknown service")
	}
}
