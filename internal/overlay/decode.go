package overlay

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Source is a read-only view of the raw store.
type Source interface {
	Get(key string) (any, bool)
}

// Positions are the on-track roster slots, in display order.
var Positions = []string{"Jammer", "Pivot", "Blocker1", "Blocker2", "Blocker3"}

type clockName string

const (
	clockPeriod       clockName = "Period"
	clockJam          clockName = "Jam"
	clockLineup       clockName = "Lineup"
	clockTimeout      clockName = "Timeout"
	clockIntermission clockName = "Intermission"
)

type clockRecord struct {
	Name    string
	Number  int
	Time    int64
	Running bool
}

type skaterRecord struct {
	Name   string
	Number string
}

type fieldingRecord struct {
	jammer   skaterRecord
	pivot    skaterRecord
	starPass bool
}

type teamRecord struct {
	Name             string
	Initials         string
	Score            int
	JamScore         int
	Lead             bool
	Lost             bool
	StarPass         bool
	Timeouts         int
	OfficialReviews  int
	InTimeout        bool
	InOfficialReview bool
	Positions        [5]skaterRecord
	previous         fieldingRecord
}

// snapshot is the only place raw values are interpreted. Everything past
// decodeSnapshot reads typed fields.
type snapshot struct {
	State          string
	OfficialScore  bool
	OfficialReview bool
	TimeoutOwner   string

	Period       clockRecord
	Jam          clockRecord
	Lineup       clockRecord
	Timeout      clockRecord
	Intermission clockRecord

	Teams [2]teamRecord
}

type reader struct {
	src    Source
	prefix string
}

func (r reader) raw(key string) (any, bool) {
	if r.src == nil {
		return nil, false
	}
	return r.src.Get(r.prefix + key)
}

func (r reader) str(key string) string  { return decode[string](r.raw(key)) }
func (r reader) num(key string) int     { return decode[int](r.raw(key)) }
func (r reader) num64(key string) int64 { return decode[int64](r.raw(key)) }
func (r reader) flag(key string) bool   { return decode[bool](r.raw(key)) }

// decode weakly converts v into T. Anything that does not convert yields
// the zero value.
func decode[T any](v any, ok bool) T {
	var out T
	if !ok || v == nil {
		return out
	}
	switch v.(type) {
	case map[string]any, []any:
		return out
	}
	if err := mapstructure.WeakDecode(v, &out); err != nil {
		var zero T
		return zero
	}
	return out
}

func decodeSnapshot(src Source, prefix string) snapshot {
	r := reader{src: src, prefix: prefix}
	s := snapshot{
		State:          r.str("State"),
		OfficialScore:  r.flag("OfficialScore"),
		OfficialReview: r.flag("OfficialReview"),
		TimeoutOwner:   r.str("TimeoutOwner"),
		Period:         r.clock(clockPeriod),
		Jam:            r.clock(clockJam),
		Lineup:         r.clock(clockLineup),
		Timeout:        r.clock(clockTimeout),
		Intermission:   r.clock(clockIntermission),
	}
	for i := range s.Teams {
		s.Teams[i] = r.team(i+1, s.Period.Number, s.Jam.Number)
	}
	return s
}

func (r reader) clock(name clockName) clockRecord {
	base := fmt.Sprintf("Clock(%s).", name)
	return clockRecord{
		Name:    r.str(base + "Name"),
		Number:  r.num(base + "Number"),
		Time:    r.num64(base + "Time"),
		Running: r.flag(base + "Running"),
	}
}

func (r reader) team(t, period, jam int) teamRecord {
	base := fmt.Sprintf("Team(%d).", t)
	rec := teamRecord{
		Name:             r.str(base + "Name"),
		Initials:         r.str(base + "Initials"),
		Score:            r.num(base + "Score"),
		JamScore:         r.num(base + "JamScore"),
		Lead:             r.flag(base + "Lead"),
		Lost:             r.flag(base + "Lost"),
		StarPass:         r.flag(base + "StarPass"),
		Timeouts:         r.num(base + "Timeouts"),
		OfficialReviews:  r.num(base + "OfficialReviews"),
		InTimeout:        r.flag(base + "InTimeout"),
		InOfficialReview: r.flag(base + "InOfficialReview"),
	}
	for i, pos := range Positions {
		p := fmt.Sprintf("%sPosition(%s).", base, pos)
		rec.Positions[i] = skaterRecord{
			Name:   r.str(p + "Name"),
			Number: r.str(p + "RosterNumber"),
		}
	}
	rec.previous = r.previousFielding(t, period, jam)
	return rec
}

// previousFielding reads the jammer and pivot fielded by team t in jam
// number jam of the given period.
func (r reader) previousFielding(t, period, jam int) fieldingRecord {
	if jam <= 0 {
		return fieldingRecord{}
	}
	base := fmt.Sprintf("Period(%d).Jam(%d).TeamJam(%d).", period, jam, t)
	return fieldingRecord{
		jammer:   r.fielded(t, base+"Fielding(Jammer)."),
		pivot:    r.fielded(t, base+"Fielding(Pivot)."),
		starPass: r.flag(base + "StarPass"),
	}
}

func (r reader) fielded(t int, base string) skaterRecord {
	id := r.str(base + "Skater")
	rec := skaterRecord{Number: r.str(base + "SkaterNumber")}
	if id != "" {
		sk := fmt.Sprintf("Team(%d).Skater(%s).", t, id)
		rec.Name = r.str(sk + "Name")
		if rec.Number == "" {
			rec.Number = r.str(sk + "RosterNumber")
		}
	}
	return rec
}
