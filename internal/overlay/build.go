// Package overlay derives the presentation model from raw scoreboard keys.
package overlay

import (
	"fmt"
	"strings"

	"github.com/titty-skittles/Apex-Overlay/internal/settings"
)

// DefaultPrefix is prepended to every key the builder reads.
const DefaultPrefix = "ScoreBoard.CurrentGame."

// postTimeoutMarker in a running lineup clock's name selects the
// post-timeout label.
const postTimeoutMarker = "post timeout"

const (
	timeoutDotCount = 3
	reviewDotCount  = 1
)

type Labels struct {
	Pregame         string
	Final           string
	Unofficial      string
	Intermission    string
	PostTimeout     string
	Timeout         string
	OfficialTimeout string
	OfficialReview  string
	TeamTimeout     string // format, team name
	TeamReview      string // format, team name
	Lineup          string
	Jam             string // format, jam number
	JamClock        string
	Period          string
}

func DefaultLabels() Labels {
	return Labels{
		Pregame:         "Time to Derby",
		Final:           "Final Score",
		Unofficial:      "Unofficial Score",
		Intermission:    "Intermission",
		PostTimeout:     "Post Timeout",
		Timeout:         "Timeout",
		OfficialTimeout: "Official Timeout",
		OfficialReview:  "Official Review",
		TeamTimeout:     "%s Timeout",
		TeamReview:      "%s Official Review",
		Lineup:          "Lineup",
		Jam:             "Jam %d",
		JamClock:        "Jam",
		Period:          "Period",
	}
}

type Builder struct {
	Prefix string
	Labels Labels
}

func NewBuilder(prefix string) Builder {
	return Builder{Prefix: prefix, Labels: DefaultLabels()}
}

// Build derives a model with the default prefix and labels.
func Build(src Source, s settings.Settings) Model {
	return NewBuilder(DefaultPrefix).Build(src, s)
}

// Build never fails: missing or malformed values read as zero values.
func (b Builder) Build(src Source, s settings.Settings) Model {
	snap := decodeSnapshot(src, b.Prefix)

	m := Model{
		State:        snap.State,
		Period:       toClock(snap.Period),
		Jam:          toClock(snap.Jam),
		Lineup:       toClock(snap.Lineup),
		Timeout:      toClock(snap.Timeout),
		Intermission: toClock(snap.Intermission),
	}
	if m.State == "" {
		m.State = "Unknown"
	}

	for i := range m.Teams {
		m.Teams[i] = buildTeam(i+1, snap.Teams[i], s.Team(i+1))
	}

	m.MainClock = b.primaryClock(m)
	if m.MainClock.Mode == ModePeriod {
		m.SecondaryClock = b.secondaryClock(m)
	}

	m.Phase, m.StatusLabel = b.status(snap, m)
	m.UI = uiFlags(m, snap)

	lineup := m.Phase == PhaseLineup || m.Phase == PhasePostTimeout
	for i := range m.Teams {
		m.Teams[i].JammerRow = jammerRow(m.Teams[i], snap.Teams[i], lineup && snap.Jam.Number > 0)
	}
	return m
}

func toClock(c clockRecord) Clock {
	return Clock{Name: c.Name, Number: c.Number, TimeMs: c.Time, Running: c.Running}
}

func (b Builder) view(mode ClockMode, label string, c Clock) ClockView {
	return ClockView{Mode: mode, Label: label, Number: c.Number, TimeMs: c.TimeMs, Display: FormatClock(c.TimeMs)}
}

// primaryClock is intermission while it runs, otherwise period.
func (b Builder) primaryClock(m Model) ClockView {
	if m.Intermission.Running {
		return b.view(ModeIntermission, b.Labels.Intermission, m.Intermission)
	}
	return b.view(ModePeriod, b.Labels.Period, m.Period)
}

// secondaryClock picks the first running of timeout, jam, lineup.
func (b Builder) secondaryClock(m Model) *ClockView {
	var v ClockView
	switch {
	case m.Timeout.Running:
		v = b.view(ModeTimeout, b.Labels.Timeout, m.Timeout)
	case m.Jam.Running:
		v = b.view(ModeJam, b.Labels.JamClock, m.Jam)
	case m.Lineup.Running:
		v = b.view(ModeLineup, b.Labels.Lineup, m.Lineup)
	default:
		return nil
	}
	return &v
}

// status walks the label rules in priority order; the first match wins.
func (b Builder) status(snap snapshot, m Model) (Phase, string) {
	intermission := snap.Intermission.Running
	switch {
	case intermission && snap.Period.Number == 0:
		return PhasePregame, b.Labels.Pregame
	case snap.OfficialScore || strings.EqualFold(snap.State, "finished"):
		return PhaseFinal, b.Labels.Final
	case snap.Period.Number >= 2 && !snap.Period.Running:
		return PhaseUnofficial, b.Labels.Unofficial
	case intermission:
		return PhaseIntermission, b.Labels.Intermission
	case snap.Lineup.Running && strings.Contains(strings.ToLower(snap.Lineup.Name), postTimeoutMarker):
		return PhasePostTimeout, b.Labels.PostTimeout
	case snap.Timeout.Running:
		return PhaseTimeout, b.timeoutLabel(snap, m)
	case snap.Lineup.Running:
		if name := strings.TrimSpace(snap.Lineup.Name); name != "" {
			return PhaseLineup, name
		}
		return PhaseLineup, b.Labels.Lineup
	case snap.Jam.Running:
		return PhaseJam, fmt.Sprintf(b.Labels.Jam, snap.Jam.Number)
	}
	return PhaseIdle, m.MainClock.Label
}

// timeoutLabel resolves who owns a running timeout. Team review flags win
// over the global review flag, which wins over the owner code.
func (b Builder) timeoutLabel(snap snapshot, m Model) string {
	for i, t := range snap.Teams {
		if t.InOfficialReview {
			return fmt.Sprintf(b.Labels.TeamReview, m.Teams[i].Name)
		}
	}
	if snap.OfficialReview {
		return b.Labels.OfficialReview
	}
	switch idx := timeoutOwner(snap.TimeoutOwner); idx {
	case 1, 2:
		return fmt.Sprintf(b.Labels.TeamTimeout, m.Teams[idx-1].Name)
	case ownerOfficial:
		return b.Labels.OfficialTimeout
	}
	return b.Labels.Timeout
}

const ownerOfficial = -1

// timeoutOwner maps an owner code to a team index (1, 2), ownerOfficial,
// or 0 when unknown. Team owners are ids ending in "_<n>" or bare "<n>".
func timeoutOwner(owner string) int {
	owner = strings.TrimSpace(owner)
	switch {
	case owner == "":
		return 0
	case strings.EqualFold(owner, "O"):
		return ownerOfficial
	}
	for _, n := range []int{1, 2} {
		s := fmt.Sprint(n)
		if owner == s || strings.HasSuffix(owner, "_"+s) {
			return n
		}
	}
	return 0
}

func uiFlags(m Model, snap snapshot) UI {
	review := m.Phase == PhaseTimeout && (snap.OfficialReview || snap.Teams[0].InOfficialReview || snap.Teams[1].InOfficialReview)
	return UI{
		Jam:             m.Phase == PhaseJam,
		Lineup:          m.Phase == PhaseLineup || m.Phase == PhasePostTimeout,
		Timeout:         m.Phase == PhaseTimeout,
		OfficialReview:  review,
		Intermission:    m.Phase == PhaseIntermission,
		Pregame:         m.Phase == PhasePregame,
		OfficialScore:   m.Phase == PhaseFinal,
		UnofficialScore: m.Phase == PhaseUnofficial,
		SecondaryClock:  m.SecondaryClock != nil,
	}
}

func buildTeam(idx int, rec teamRecord, o settings.Team) Team {
	t := Team{
		Index:    idx,
		Name:     firstNonEmpty(o.NameLong, rec.Name, fmt.Sprintf("Team %d", idx)),
		Initials: firstNonEmpty(o.NameShort, rec.Initials),
		Colors: Colors{
			Primary:   o.Colors.Primary,
			Secondary: o.Colors.Secondary,
			Text:      o.Colors.Text,
		},
		Score:            rec.Score,
		JamScore:         rec.JamScore,
		JamStatus:        JamStatus{Lead: rec.Lead, Lost: rec.Lost, StarPass: rec.StarPass},
		Timeouts:         rec.Timeouts,
		OfficialReviews:  rec.OfficialReviews,
		InTimeout:        rec.InTimeout,
		InOfficialReview: rec.InOfficialReview,
		TimeoutDots:      Dots(rec.Timeouts, timeoutDotCount, rec.InTimeout),
		ReviewDot:        Dots(rec.OfficialReviews, reviewDotCount, rec.InOfficialReview)[0],
	}
	t.JamStatusLabel = jamStatusLabel(t.JamStatus)

	t.OnTrack = make([]Skater, len(Positions))
	for i, pos := range Positions {
		t.OnTrack[i] = Skater{Position: pos, Name: rec.Positions[i].Name, Number: rec.Positions[i].Number}
	}
	return t
}

// jammerRow picks who the jammer line shows. During lineup the live roster
// has already rotated, so the previous jam's fielding is used instead.
func jammerRow(t Team, rec teamRecord, usePrevious bool) JammerRow {
	row := JammerRow{Source: SourceLive, JamScore: t.JamScore, StarPass: t.JamStatus.StarPass}
	jammer, pivot := t.OnTrack[0], t.OnTrack[1]
	if usePrevious {
		row.Source = SourcePreviousJam
		row.StarPass = rec.previous.starPass
		jammer = Skater{Position: "Jammer", Name: rec.previous.jammer.Name, Number: rec.previous.jammer.Number}
		pivot = Skater{Position: "Pivot", Name: rec.previous.pivot.Name, Number: rec.previous.pivot.Number}
	}
	row.Skater = jammer
	if row.StarPass {
		row.Skater = pivot
	}
	return row
}

func jamStatusLabel(s JamStatus) string {
	switch {
	case s.StarPass:
		return "STAR PASS"
	case s.Lost:
		return "LOST"
	case s.Lead:
		return "LEAD"
	}
	return ""
}

// Dots renders a remaining-count as fixed-capacity dots. While the event
// is active the dot being spent shows as current rather than used.
func Dots(remaining, total int, active bool) []Dot {
	r := min(max(remaining, 0), total)
	used := total - r

	pending := -1
	solid := used
	if active {
		pending = used
		solid = max(0, used-1)
	}

	dots := make([]Dot, total)
	for i := range dots {
		n := i + 1
		switch {
		case n == pending:
			dots[i].State = DotCurrent
		case n <= solid:
			dots[i].State = DotUsed
		default:
			dots[i].State = DotEmpty
		}
	}
	return dots
}

// FormatClock renders milliseconds as m:ss.
func FormatClock(ms int64) string {
	total := max(ms, 0) / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
