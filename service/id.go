package service

import (
	"fmt"
	"math/bits"
	"strings"
)

// ID is a bit set of data services. A single bit names one service; the
// union of several bits names the set of services a decoder job handles.
type ID uint32

// Service identifiers.
const (
	// Teletext System B 625 Level 1.5: lines 7-22 and 320-335.
	TeletextBL10_625 ID = 0x00000001
	// Teletext System B 625 Level 2.5: lines 6-22 and 318-335.
	TeletextBL25_625 ID = 0x00000002
	TeletextB           = TeletextBL10_625 | TeletextBL25_625

	// Video Program System, PDC data on line 16 of field 1.
	VPS ID = 0x00000004
	// Pseudo VPS on line 329, carried by some German stations.
	VPSF2 ID = 0x00001000

	Caption625F1 ID = 0x00000008
	Caption625F2 ID = 0x00000010
	Caption625      = Caption625F1 | Caption625F2

	Caption525F1 ID = 0x00000020
	Caption525F2 ID = 0x00000040
	Caption525      = Caption525F1 | Caption525F2

	// Closed caption at twice the EIA 608 bit rate, as used by some
	// proprietary in-house systems.
	Caption525_2x ID = 0x00000080

	// Wide Screen Signalling on line 23 of 625-line systems.
	WSS625 ID = 0x00000400
	// NTSC Wide Screen Signalling, EIA-J CPR-1204.
	WSSCPR1204 ID = 0x00000800

	TeletextA     ID = 0x00002000
	TeletextC625  ID = 0x00004000
	TeletextD625  ID = 0x00008000
	TeletextB525  ID = 0x00010000
	TeletextC525  ID = 0x00000100
	TeletextD525  ID = 0x00020000
	TeletextBD525 ID = 0x00000200

	// Raw VBI placeholders. A decoder never schedules these.
	VBI625 ID = 0x20000000
	VBI525 ID = 0x40000000
)

// Equivalence classes: services of one class share a decoder job because
// they never occur on the same line.
var jobClasses = [...]ID{
	TeletextB,
	Caption525,
	Caption625,
	VPS | VPSF2,
}

// SharesJob reports whether a job currently handling services a may also
// handle services b.
func SharesJob(a, b ID) bool {
	u := a | b
	for _, c := range jobClasses {
		if u&^c == 0 {
			return true
		}
	}
	return false
}

// Name returns a human readable name for a service or a known set of
// services, or "" when the id is neither.
func Name(id ID) string {
	switch id {
	case Caption525:
		return "Closed Caption 525"
	case Caption625:
		return "Closed Caption 625"
	case VPS | VPSF2:
		return "Video Program System"
	case TeletextBL25_625:
		return "Teletext System B 625 Level 2.5"
	case TeletextBD525:
		return "Teletext System B/D"
	}
	if d := Find(id); d != nil {
		return d.Label
	}
	return ""
}

// String lists the names of the services in the set.
func (id ID) String() string {
	if id == 0 {
		return "none"
	}
	if n := Name(id); n != "" {
		return n
	}
	var parts []string
	for rest := id; rest != 0; {
		bit := ID(1) << bits.TrailingZeros32(uint32(rest))
		rest &^= bit
		if n := Name(bit); n != "" {
			parts = append(parts, n)
		} else {
			parts = append(parts, fmt.Sprintf("%#x", uint32(bit)))
		}
	}
	return strings.Join(parts, ", ")
}

var shortNames = map[string]ID{
	"teletext":        TeletextB,
	"teletext-b":      TeletextB,
	"teletext-b-l10":  TeletextBL10_625,
	"teletext-b-l25":  TeletextBL25_625,
	"teletext-a":      TeletextA,
	"teletext-c-625":  TeletextC625,
	"teletext-d-625":  TeletextD625,
	"teletext-b-525":  TeletextB525,
	"teletext-c-525":  TeletextC525,
	"teletext-d-525":  TeletextD525,
	"vps":             VPS,
	"vps-f2":          VPSF2,
	"wss":             WSS625,
	"wss-625":         WSS625,
	"cc":              Caption525,
	"caption-525":     Caption525,
	"caption-525-f1":  Caption525F1,
	"caption-525-f2":  Caption525F2,
	"caption-625":     Caption625,
	"caption-625-f1":  Caption625F1,
	"caption-625-f2":  Caption625F2,
	"caption-525-2x":  Caption525_2x,
}

// ParseList parses a comma separated list of short service names such as
// "teletext,vps,wss" into a set.
func ParseList(s string) (ID, error) {
	var set ID
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		id, ok := shortNames[f]
		if !ok {
			return 0, fmt.Errorf("service: unknown service %q", f)
		}
		set |= id
	}
	return set, nil
}
