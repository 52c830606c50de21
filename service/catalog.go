// Package service holds the catalog of VBI data services (teletext, closed
// caption, VPS, WSS) and decides which of them a capture geometry can carry.
package service

import "github.com/zsiec/rawvbi/sampling"

// Modulation is the line coding of a service's payload.
type Modulation int

// Line codings. LSB and MSB name the bit order within a byte.
const (
	NRZLSB Modulation = iota
	NRZMSB
	BiphaseLSB
	BiphaseMSB
)

func (m Modulation) String() string {
	switch m {
	case NRZLSB:
		return "nrz-lsb"
	case NRZMSB:
		return "nrz-msb"
	case BiphaseLSB:
		return "biphase-lsb"
	case BiphaseMSB:
		return "biphase-msb"
	}
	return "unknown"
}

// Biphase reports whether every payload bit is sent as two half cells.
func (m Modulation) Biphase() bool {
	return m == BiphaseLSB || m == BiphaseMSB
}

// MSBFirst reports whether the most significant bit is transmitted first.
func (m Modulation) MSBFirst() bool {
	return m == NRZMSB || m == BiphaseMSB
}

// Flag qualifies what a service needs from the capture geometry.
type Flag uint8

const (
	// FlagLineNum means the service can only be found when the capture
	// knows the broadcast line numbers.
	FlagLineNum Flag = 1 << iota
	// FlagFieldNum means the service can only be found when the capture
	// delivers fields in a known order.
	FlagFieldNum
)

// Descriptor describes the timing and coding of one service.
//
// First and Last give the broadcast lines carrying the service in each
// field; 0 in both means the field is unused. Offset is the start of the
// clock run-in after 0H in nanoseconds. CRIFRC holds the clock run-in bits
// followed by FRCBits of framing code, CRIFRCMask selects the run-in bits
// that must match.
type Descriptor struct {
	ID          ID
	Label       string
	Standards   sampling.StandardSet
	First       [2]int
	Last        [2]int
	Offset      int
	CRIRate     int
	BitRate     int
	CRIFRC      uint32
	CRIFRCMask  uint32
	CRIBits     int
	FRCBits     int
	PayloadBits int
	Modulation  Modulation
	Flags       Flag
}

// UsesField reports whether the service occurs in field f (0 or 1).
func (d *Descriptor) UsesField(f int) bool {
	return d.First[f] != 0 || d.Last[f] != 0
}

// CRI returns the clock run-in pattern and mask as compared by a slicer.
func (d *Descriptor) CRI() (pattern, mask uint32) {
	return d.CRIFRC >> d.FRCBits, d.CRIFRCMask >> d.FRCBits
}

// FRC returns the framing code.
func (d *Descriptor) FRC() uint32 {
	if d.FRCBits == 0 {
		return 0
	}
	return d.CRIFRC & (1<<d.FRCBits - 1)
}

// PayloadBytes returns the size of a decoded payload in bytes.
func (d *Descriptor) PayloadBytes() int {
	return (d.PayloadBits + 7) / 8
}

var catalog = []Descriptor{
	{
		ID: TeletextA, Label: "Teletext System A",
		Standards: sampling.Set625_50,
		First:     [2]int{6, 318}, Last: [2]int{22, 335},
		Offset:  10500,
		CRIRate: 6203125, BitRate: 6203125,
		CRIFRC: 0x00AAAAE7, CRIFRCMask: 0xFFFF,
		CRIBits: 18, FRCBits: 6, PayloadBits: 37 * 8,
		Modulation: NRZLSB,
	},
	{
		ID: TeletextBL10_625, Label: "Teletext System B 625 Level 1.5",
		Standards: sampling.Set625_50,
		First:     [2]int{7, 320}, Last: [2]int{22, 335},
		Offset:  10300,
		CRIRate: 6937500, BitRate: 6937500,
		CRIFRC: 0x00AAAAE4, CRIFRCMask: 0xFFFF,
		CRIBits: 18, FRCBits: 6, PayloadBits: 42 * 8,
		Modulation: NRZLSB,
	},
	{
		ID: TeletextB, Label: "Teletext System B, 625",
		Standards: sampling.Set625_50,
		First:     [2]int{6, 318}, Last: [2]int{22, 335},
		Offset:  10300,
		CRIRate: 6937500, BitRate: 6937500,
		CRIFRC: 0x00AAAAE4, CRIFRCMask: 0xFFFF,
		CRIBits: 18, FRCBits: 6, PayloadBits: 42 * 8,
		Modulation: NRZLSB,
	},
	{
		ID: TeletextC625, Label: "Teletext System C 625",
		Standards: sampling.Set625_50,
		First:     [2]int{6, 318}, Last: [2]int{22, 335},
		Offset:  10480,
		CRIRate: 5734375, BitRate: 5734375,
		CRIFRC: 0x00AAAAE7, CRIFRCMask: 0xFFFF,
		CRIBits: 18, FRCBits: 6, PayloadBits: 33 * 8,
		Modulation: NRZLSB,
	},
	{
		ID: TeletextD625, Label: "Teletext System D 625",
		Standards: sampling.Set625_50,
		First:     [2]int{6, 318}, Last: [2]int{22, 335},
		Offset:  10500,
		CRIRate: 5642787, BitRate: 5642787,
		CRIFRC: 0x00AAAAE5, CRIFRCMask: 0xFFFF,
		CRIBits: 18, FRCBits: 6, PayloadBits: 34 * 8,
		Modulation: NRZLSB,
	},
	{
		ID: VPS, Label: "Video Program System",
		Standards: sampling.SetPAL_BG,
		First:     [2]int{16, 0}, Last: [2]int{16, 0},
		Offset:  12500,
		CRIRate: 5000000, BitRate: 2500000,
		CRIFRC: 0xAAAA8A99, CRIFRCMask: 0xFFFFFF,
		CRIBits: 32, FRCBits: 0, PayloadBits: 13 * 8,
		Modulation: BiphaseMSB,
		Flags:      FlagFieldNum,
	},
	{
		ID: VPSF2, Label: "Pseudo-VPS on field 2",
		Standards: sampling.SetPAL_BG,
		First:     [2]int{0, 329}, Last: [2]int{0, 329},
		Offset:  12500,
		CRIRate: 5000000, BitRate: 2500000,
		CRIFRC: 0xAAAA8A99, CRIFRCMask: 0xFFFFFF,
		CRIBits: 32, FRCBits: 0, PayloadBits: 13 * 8,
		Modulation: BiphaseMSB,
		Flags:      FlagFieldNum,
	},
	{
		ID: WSS625, Label: "Wide Screen Signalling 625",
		Standards: sampling.Set625_50,
		First:     [2]int{23, 0}, Last: [2]int{23, 0},
		Offset:  11000,
		CRIRate: 5000000, BitRate: 833333,
		CRIFRC: 0x8E3C783E, CRIFRCMask: 0x2499339C,
		CRIBits: 32, FRCBits: 0, PayloadBits: 14,
		Modulation: BiphaseLSB,
		Flags:      FlagFieldNum | FlagLineNum,
	},
	{
		ID: Caption625F1, Label: "Closed Caption 625, field 1",
		Standards: sampling.Set625_50,
		First:     [2]int{22, 0}, Last: [2]int{22, 0},
		Offset:  10500,
		CRIRate: 1000000, BitRate: 500000,
		CRIFRC: 0x00005551, CRIFRCMask: 0x7FF,
		CRIBits: 14, FRCBits: 2, PayloadBits: 2 * 8,
		Modulation: NRZLSB,
		Flags:      FlagFieldNum,
	},
	{
		ID: Caption625F2, Label: "Closed Caption 625, field 2",
		Standards: sampling.Set625_50,
		First:     [2]int{0, 335}, Last: [2]int{0, 335},
		Offset:  10500,
		CRIRate: 1000000, BitRate: 500000,
		CRIFRC: 0x00005551, CRIFRCMask: 0x7FF,
		CRIBits: 14, FRCBits: 2, PayloadBits: 2 * 8,
		Modulation: NRZLSB,
		Flags:      FlagFieldNum,
	},
	{
		ID: VBI625, Label: "VBI 625",
		Standards: sampling.Set625_50,
		First:     [2]int{6, 318}, Last: [2]int{22, 335},
		Offset:  10000,
		CRIRate: 1510000, BitRate: 1510000,
		PayloadBits: 10 * 8,
		Modulation:  NRZLSB,
	},
	{
		ID: TeletextB525, Label: "Teletext System B 525",
		Standards: sampling.Set525_60,
		First:     [2]int{10, 272}, Last: [2]int{21, 284},
		Offset:  10500,
		CRIRate: 5727272, BitRate: 5727272,
		CRIFRC: 0x00AAAAE4, CRIFRCMask: 0xFFFF,
		CRIBits: 18, FRCBits: 6, PayloadBits: 34 * 8,
		Modulation: NRZLSB,
	},
	{
		ID: TeletextC525, Label: "Teletext System C 525",
		Standards: sampling.Set525_60,
		First:     [2]int{10, 272}, Last: [2]int{21, 284},
		Offset:  10480,
		CRIRate: 5727272, BitRate: 5727272,
		CRIFRC: 0x00AAAAE7, CRIFRCMask: 0xFFFF,
		CRIBits: 18, FRCBits: 6, PayloadBits: 33 * 8,
		Modulation: NRZLSB,
	},
	{
		ID: TeletextD525, Label: "Teletext System D 525",
		Standards: sampling.Set525_60,
		First:     [2]int{10, 272}, Last: [2]int{21, 284},
		Offset:  9780,
		CRIRate: 5727272, BitRate: 5727272,
		CRIFRC: 0x00AAAAE5, CRIFRCMask: 0xFFFF,
		CRIBits: 18, FRCBits: 6, PayloadBits: 34 * 8,
		Modulation: NRZLSB,
	},
	{
		ID: Caption525F1, Label: "Closed Caption 525, field 1",
		Standards: sampling.Set525_60,
		First:     [2]int{21, 0}, Last: [2]int{21, 0},
		Offset:  10500,
		CRIRate: 1006976, BitRate: 503488,
		CRIFRC: 0x03, CRIFRCMask: 0x0F,
		CRIBits: 4, FRCBits: 0, PayloadBits: 2 * 8,
		Modulation: NRZLSB,
		Flags:      FlagLineNum,
	},
	{
		ID: Caption525F2, Label: "Closed Caption 525, field 2",
		Standards: sampling.Set525_60,
		First:     [2]int{0, 284}, Last: [2]int{0, 284},
		Offset:  10500,
		CRIRate: 1006976, BitRate: 503488,
		CRIFRC: 0x03, CRIFRCMask: 0x0F,
		CRIBits: 4, FRCBits: 0, PayloadBits: 2 * 8,
		Modulation: NRZLSB,
		Flags:      FlagFieldNum | FlagLineNum,
	},
	{
		ID: Caption525_2x, Label: "2xCaption 525",
		Standards: sampling.Set525_60,
		First:     [2]int{10, 0}, Last: [2]int{21, 0},
		Offset:  10500,
		CRIRate: 1006976, BitRate: 1006976,
		CRIFRC: 0x000554ED, CRIFRCMask: 0xFFFF,
		CRIBits: 12, FRCBits: 8, PayloadBits: 4 * 8,
		Modulation: NRZLSB,
		Flags:      FlagFieldNum,
	},
	{
		ID: VBI525, Label: "VBI 525",
		Standards: sampling.Set525_60,
		First:     [2]int{10, 272}, Last: [2]int{21, 284},
		Offset:  9500,
		CRIRate: 1510000, BitRate: 1510000,
		PayloadBits: 10 * 8,
		Modulation:  NRZLSB,
	},
}

// Catalog returns the service table in lookup order. The returned slice
// must not be modified.
func Catalog() []Descriptor {
	return catalog
}

// Find returns the descriptor with exactly this id, or nil.
func Find(id ID) *Descriptor {
	for i := range catalog {
		if catalog[i].ID == id {
			return &catalog[i]
		}
	}
	return nil
}
