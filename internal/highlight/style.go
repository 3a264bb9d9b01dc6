package highlight

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/errlens/internal/dom"
)

// Style configures how highlighted elements are drawn.
type Style struct {
	Color       string `json:"color"`
	BorderStyle string `json:"border_style"`
	BorderWidth int    `json:"border_width"`
	Fill        bool   `json:"fill"`
	// FillOpacity is the fill strength in percent.
	FillOpacity int `json:"fill_opacity"`
}

// DefaultStyle returns the default highlight style.
func DefaultStyle() Style {
	return Style{
		Color:       "#ff3b30",
		BorderStyle: "solid",
		BorderWidth: 2,
		Fill:        true,
		FillOpacity: 12,
	}
}

var borderStyles = map[string]bool{
	"solid": true, "dashed": true, "dotted": true, "double": true,
	"groove": true, "ridge": true, "inset": true, "outset": true,
}

// Normalize clamps out-of-range values and replaces invalid ones with
// defaults.
func (s Style) Normalize() Style {
	def := DefaultStyle()
	s.Color = strings.TrimSpace(s.Color)
	if s.Color == "" || strings.ContainsAny(s.Color, ";{}<>\"'\\") {
		s.Color = def.Color
	}
	s.BorderStyle = strings.ToLower(strings.TrimSpace(s.BorderStyle))
	if !borderStyles[s.BorderStyle] {
		s.BorderStyle = def.BorderStyle
	}
	switch {
	case s.BorderWidth < 1:
		s.BorderWidth = 1
	case s.BorderWidth > 10:
		s.BorderWidth = 10
	}
	switch {
	case s.FillOpacity < 0:
		s.FillOpacity = 0
	case s.FillOpacity > 100:
		s.FillOpacity = 100
	}
	return s
}

// Touched lists the inline style properties highlighting may change. Only
// these are snapshotted and restored.
var Touched = []string{"outline", "outline-offset", "background-color", "box-shadow"}

// State is the highlight state of one element.
type State string

const (
	StateNone     State = "none"
	StateSingle   State = "single"
	StateMultiple State = "multiple"
)

// StateAttr is the data attribute carrying the highlight state.
const StateAttr = "data-errlens"

// declarations returns the inline declarations for a highlighted element.
func (s Style) declarations(state State) dom.Declarations {
	var d dom.Declarations
	switch state {
	case StateSingle:
		d.Set("outline", fmt.Sprintf("%dpx %s %s", s.BorderWidth, s.BorderStyle, s.Color))
		d.Set("outline-offset", "1px")
	case StateMultiple:
		d.Set("outline", fmt.Sprintf("%dpx double %s", s.BorderWidth+2, s.Color))
		d.Set("outline-offset", "2px")
		d.Set("box-shadow", fmt.Sprintf("0 0 0 %dpx color-mix(in srgb, %s 35%%, transparent)", s.BorderWidth+3, s.Color))
	default:
		return nil
	}
	if s.Fill && s.FillOpacity > 0 {
		d.Set("background-color", fmt.Sprintf("color-mix(in srgb, %s %d%%, transparent)", s.Color, s.FillOpacity))
	}
	return d
}

type saved struct {
	value string
	set   bool
}

// snapshot is an element's pre-highlight inline style, per touched property.
type snapshot map[string]saved

func takeSnapshot(d dom.Declarations) snapshot {
	snap := make(snapshot, len(Touched))
	for _, prop := range Touched {
		v, ok := d.Get(prop)
		snap[prop] = saved{value: v, set: ok}
	}
	return snap
}

// restore puts every touched property back to its snapshotted value.
func (snap snapshot) restore(d *dom.Declarations) {
	for _, prop := range Touched {
		s := snap[prop]
		if s.set {
			d.Set(prop, s.value)
		} else {
			d.Remove(prop)
		}
	}
}
