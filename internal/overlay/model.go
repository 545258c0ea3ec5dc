package overlay

// Phase names the rule that produced the status label.
type Phase string

const (
	PhasePregame      Phase = "pregame"
	PhaseFinal        Phase = "final"
	PhaseUnofficial   Phase = "unofficial"
	PhaseIntermission Phase = "intermission"
	PhasePostTimeout  Phase = "postTimeout"
	PhaseTimeout      Phase = "timeout"
	PhaseLineup       Phase = "lineup"
	PhaseJam          Phase = "jam"
	PhaseIdle         Phase = "idle"
)

type ClockMode string

const (
	ModePeriod       ClockMode = "period"
	ModeJam          ClockMode = "jam"
	ModeLineup       ClockMode = "lineup"
	ModeTimeout      ClockMode = "timeout"
	ModeIntermission ClockMode = "intermission"
)

type DotState string

const (
	DotEmpty   DotState = "empty"
	DotUsed    DotState = "used"
	DotCurrent DotState = "current"
)

// Model is the presentation-ready view of one store snapshot.
type Model struct {
	State string `json:"state"`

	Period       Clock `json:"period"`
	Jam          Clock `json:"jam"`
	Lineup       Clock `json:"lineup"`
	Timeout      Clock `json:"timeout"`
	Intermission Clock `json:"intermission"`

	Teams [2]Team `json:"teams"`

	MainClock      ClockView  `json:"mainClock"`
	SecondaryClock *ClockView `json:"secondaryClock"`

	StatusLabel string `json:"statusLabel"`
	Phase       Phase  `json:"phase"`
	UI          UI     `json:"ui"`
}

type Clock struct {
	Name    string `json:"name,omitempty"`
	Number  int    `json:"number"`
	TimeMs  int64  `json:"timeMs"`
	Running bool   `json:"running"`
}

type ClockView struct {
	Mode    ClockMode `json:"mode"`
	Label   string    `json:"label"`
	Number  int       `json:"number"`
	TimeMs  int64     `json:"timeMs"`
	Display string    `json:"display"`
}

type Colors struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
	Text      string `json:"text,omitempty"`
}

type Skater struct {
	Position string `json:"pos"`
	Name     string `json:"name"`
	Number   string `json:"number"`
}

type JamStatus struct {
	Lead     bool `json:"lead"`
	Lost     bool `json:"lost"`
	StarPass bool `json:"starPass"`
}

type Dot struct {
	State DotState `json:"state"`
}

// JammerRow is what the jammer line of a team shows. Source is "live" or
// "previousJam".
type JammerRow struct {
	Source   string `json:"source"`
	Skater   Skater `json:"skater"`
	StarPass bool   `json:"starPass"`
	JamScore int    `json:"jamScore"`
}

const (
	SourceLive        = "live"
	SourcePreviousJam = "previousJam"
)

type Team struct {
	Index    int    `json:"idx"`
	Name     string `json:"name"`
	Initials string `json:"initials"`
	Colors   Colors `json:"colors"`

	Score    int `json:"score"`
	JamScore int `json:"jamScore"`

	OnTrack        []Skater  `json:"onTrack"`
	JamStatus      JamStatus `json:"jamStatus"`
	JamStatusLabel string    `json:"jamStatusLabel"`

	Timeouts         int  `json:"timeouts"`
	OfficialReviews  int  `json:"officialReviews"`
	InTimeout        bool `json:"inTimeout"`
	InOfficialReview bool `json:"inOfficialReview"`

	TimeoutDots []Dot `json:"timeoutDots"`
	ReviewDot   Dot   `json:"reviewDot"`

	JammerRow JammerRow `json:"jammerRow"`
}

// UI flags let a presentation layer toggle regions without re-deriving
// the phase.
type UI struct {
	Jam             bool `json:"jam"`
	Lineup          bool `json:"lineup"`
	Timeout         bool `json:"timeout"`
	OfficialReview  bool `json:"officialReview"`
	Intermission    bool `json:"intermission"`
	Pregame         bool `json:"pregame"`
	OfficialScore   bool `json:"officialScore"`
	UnofficialScore bool `json:"unofficialScore"`
	SecondaryClock  bool `json:"secondaryClock"`
}
