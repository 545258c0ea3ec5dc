// Package settings holds the operator overrides merged into the overlay.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.uber.org/multierr"
)

var ErrInvalidPatch = errors.New("invalid settings patch")

const maxNameLen = 64

var colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

type Colors struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Text      string `json:"text"`
}

type Team struct {
	NameLong  string `json:"nameLong"`
	NameShort string `json:"nameShort"`
	Colors    Colors `json:"colors"`
}

type Teams struct {
	One Team `json:"1"`
	Two Team `json:"2"`
}

type Settings struct {
	Teams Teams `json:"teams"`
}

func Default() Settings { return Settings{} }

// Team returns the overrides for team 1 or 2.
func (s Settings) Team(idx int) Team {
	if idx == 2 {
		return s.Teams.Two
	}
	return s.Teams.One
}

// Patch is a partial update. Nil fields keep their current value.
type Patch struct {
	Teams map[string]*TeamPatch `json:"teams,omitempty"`
}

type TeamPatch struct {
	NameLong  *string      `json:"nameLong,omitempty"`
	NameShort *string      `json:"nameShort,omitempty"`
	Colors    *ColorsPatch `json:"colors,omitempty"`
}

type ColorsPatch struct {
	Primary   *string `json:"primary,omitempty"`
	Secondary *string `json:"secondary,omitempty"`
	Text      *string `json:"text,omitempty"`
}

// ParsePatch decodes and validates a patch body.
func ParsePatch(data []byte) (Patch, error) {
	var p Patch
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if err := p.Validate(); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// Validate reports every problem in the patch at once.
func (p Patch) Validate() error {
	var errs error
	for key, tp := range p.Teams {
		if key != "1" && key != "2" {
			errs = multierr.Append(errs, fmt.Errorf("unknown team %q", key))
			continue
		}
		if tp == nil {
			continue
		}
		errs = multierr.Append(errs, checkName("teams."+key+".nameLong", tp.NameLong))
		errs = multierr.Append(errs, checkName("teams."+key+".nameShort", tp.NameShort))
		if c := tp.Colors; c != nil {
			errs = multierr.Append(errs, checkColor("teams."+key+".colors.primary", c.Primary))
			errs = multierr.Append(errs, checkColor("teams."+key+".colors.secondary", c.Secondary))
			errs = multierr.Append(errs, checkColor("teams."+key+".colors.text", c.Text))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, errs)
	}
	return nil
}

func checkName(field string, v *string) error {
	if v == nil {
		return nil
	}
	if utf8.RuneCountInString(*v) > maxNameLen {
		return fmt.Errorf("%s longer than %d characters", field, maxNameLen)
	}
	return nil
}

func checkColor(field string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if !colorPattern.MatchString(*v) {
		return fmt.Errorf("%s: %q is not a hex color", field, *v)
	}
	return nil
}

// Merge applies p on top of base field by field. Colors merge per field.
func Merge(base Settings, p Patch) Settings {
	out := base
	if tp := p.Teams["1"]; tp != nil {
		out.Teams.One = mergeTeam(out.Teams.One, tp)
	}
	if tp := p.Teams["2"]; tp != nil {
		out.Teams.Two = mergeTeam(out.Teams.Two, tp)
	}
	return out
}

func mergeTeam(t Team, p *TeamPatch) Team {
	if p.NameLong != nil {
		t.NameLong = *p.NameLong
	}
	if p.NameShort != nil {
		t.NameShort = *p.NameShort
	}
	if c := p.Colors; c != nil {
		if c.Primary != nil {
			t.Colors.Primary = *c.Primary
		}
		if c.Secondary != nil {
			t.Colors.Secondary = *c.Secondary
		}
		if c.Text != nil {
			t.Colors.Text = *c.Text
		}
	}
	return t
}
