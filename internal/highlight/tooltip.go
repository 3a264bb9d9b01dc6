package highlight

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/standardbeagle/errlens/internal/capture"
)

// TooltipLine summarises one associated error.
type TooltipLine struct {
	HighlightID string `json:"highlight_id"`
	Message     string `json:"message"`
	Location    string `json:"location,omitempty"`
	Resolved    bool   `json:"resolved"`
	Count       int    `json:"count"`
}

// Tooltip is the hover summary for a highlighted element.
type Tooltip struct {
	Path  string        `json:"path"`
	Count int           `json:"count"`
	Lines []TooltipLine `json:"lines"`
	HTML  string        `json:"html"`
}

func tooltipPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "strong", "span", "code", "ul", "li")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).Globally()
	return p
}

func summarize(id string, rec *capture.Record) TooltipLine {
	line := TooltipLine{
		HighlightID: id,
		Message:     rec.Message,
		Count:       rec.Count(),
	}
	loc := rec.Location()
	if loc.File != "" {
		line.Location = loc.String()
	}
	line.Resolved = rec.Resolved() != nil
	return line
}

func renderTooltip(policy *bluemonday.Policy, lines []TooltipLine) string {
	var b strings.Builder
	b.WriteString(`<div class="errlens-tooltip">`)
	if len(lines) == 1 {
		b.WriteString(`<strong>1 error</strong>`)
	} else {
		fmt.Fprintf(&b, `<strong>%d errors</strong>`, len(lines))
	}
	b.WriteString(`<ul>`)
	for _, l := range lines {
		b.WriteString(`<li><span class="errlens-message">`)
		b.WriteString(html.EscapeString(l.Message))
		b.WriteString(`</span>`)
		if l.Location != "" {
			b.WriteString(` <code>`)
			b.WriteString(html.EscapeString(l.Location))
			b.WriteString(`</code>`)
		}
		if l.Count > 1 {
			fmt.Fprintf(&b, ` <span class="errlens-count">×%d</span>`, l.Count)
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ul></div>`)
	return policy.Sanitize(b.String())
}
