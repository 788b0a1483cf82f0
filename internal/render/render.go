// Package render formats workflow snapshots and service results for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/workflow"
)

const narrativePreviewRunes = 72

// Renderer writes human-readable output. It is not safe for concurrent use.
type Renderer struct {
	out io.Writer

	heading *color.Color
	label   *color.Color
	muted   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
}

// New returns a renderer writing to out. Colors are disabled when plain is set.
func New(out io.Writer, plain bool) *Renderer {
	r := &Renderer{
		out:     out,
		heading: color.New(color.FgCyan, color.Bold),
		label:   color.New(color.Bold),
		muted:   color.New(color.Faint),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{r.heading, r.label, r.muted, r.good, r.warn, r.bad} {
		if plain {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return r
}

// Snapshot prints a compact status block for the current workflow state.
func (r *Renderer) Snapshot(s workflow.Snapshot) {
	session := s.Session
	state := string(s.State)
	if s.InFlight {
		state += " (waiting on service)"
	}
	r.line("%s %s", r.label.Sprint("state:"), r.stateColor(s).Sprint(state))
	r.line("%s %s  %s %s  %s %s  %s %t",
		r.label.Sprint("kind:"), session.QueryKind,
		r.label.Sprint("mode:"), session.InputMode,
		r.label.Sprint("lang:"), session.Language,
		r.label.Sprint("speak:"), session.WantsSpokenReply,
	)
	if session.LocationHint != "" {
		r.line("%s %s", r.label.Sprint("location:"), session.LocationHint)
	}
	if tags := session.EvidenceTags.List(); len(tags) > 0 {
		r.line("%s %s", r.label.Sprint("evidence:"), strings.Join(tags, ", "))
	}
	if tags := session.AggravatingTags.List(); len(tags) > 0 {
		r.line("%s %s", r.label.Sprint("aggravating:"), strings.Join(tags, ", "))
	}
	if session.HasNarrative() {
		r.line("%s %s", r.label.Sprint("narrative:"), preview(session.NarrativeText))
	}
	if s.HasArtifact {
		r.line("%s %d bytes from %s", r.label.Sprint("recording:"), s.ArtifactBytes, s.Device)
	}
	if s.Error != nil {
		r.Failure(*s.Error)
	}
}

// Result prints any submission result variant.
func (r *Renderer) Result(result domain.SubmissionResult) {
	switch v := result.(type) {
	case domain.LegalAnalysis:
		r.Analysis(v)
	case domain.ChatAnswer:
		r.section("Answer")
		r.line("%s", v.Text)
		r.audio(v.Audio)
	case domain.Transcription:
		r.section("Transcription")
		r.line("%s", v.Text)
	case domain.Failure:
		r.Failure(v)
	case nil:
		r.line("%s", r.muted.Sprint("no result"))
	}
}

// Failure prints a dismissible error line carrying the raw service message.
func (r *Renderer) Failure(f domain.Failure) {
	message := f.Message
	if message == "" {
		message = "request failed"
	}
	r.line("%s %s", r.bad.Sprintf("[%s]", f.Kind), message)
}

// Analysis prints the structured legal analysis.
func (r *Renderer) Analysis(a domain.LegalAnalysis) {
	if a.Answer != "" {
		r.section("Answer")
		r.line("%s", a.Answer)
	}
	if a.Summary != "" {
		r.section("Summary")
		r.line("%s", a.Summary)
	}

	if len(a.Provisions) > 0 {
		r.section("Applicable provisions")
		for i, p := range a.Provisions {
			r.line("%d. %s", i+1, r.label.Sprint(p.Heading()))
			r.field("why", p.WhyApplicable)
			r.field("punishment", firstNonEmpty(p.PunishmentRange, p.Classification.Punishment))
			r.field("cognizable", firstNonEmpty(string(p.Classification.Cognizable), p.Cognizable))
			r.field("bailable", firstNonEmpty(string(p.Classification.Bailable), p.BailableStatus))
			r.field("triable by", p.CourtTriableBy)
			r.field("source", p.SourceURL)
		}
	}

	if cases := a.Cases(); len(cases) > 0 {
		r.section("Similar cases")
		for i, c := range cases {
			title := firstNonEmpty(c.Citation, c.NeutralCitation)
			if c.Court != "" || c.Year != "" {
				title = fmt.Sprintf("%s (%s)", title, strings.TrimSpace(c.Court+" "+string(c.Year)))
			}
			r.line("%d. %s", i+1, r.label.Sprint(title))
			r.field("holding", c.Holding)
			r.field("similarity", c.SimilarityNotes)
			r.field("source", c.SourceURL)
		}
	}

	if len(a.InvestigationTips) > 0 {
		r.section("Investigation tips")
		for _, tip := range a.InvestigationTips {
			r.line("- %s", tip)
		}
	}
	if a.ProceduralGuidance != "" {
		r.section("Procedure")
		r.line("%s", a.ProceduralGuidance)
	}
	if notes := a.JurisdictionalNotes; notes != nil && (notes.Details != "" || notes.LocalActsCheck != "") {
		r.section("Jurisdiction")
		r.field("local acts check", string(notes.LocalActsCheck))
		r.field("details", notes.Details)
	}
	if a.Confidence != "" {
		r.line("%s %s", r.label.Sprint("confidence:"), r.confidenceColor(a.Confidence).Sprint(a.Confidence))
	}
	r.audio(a.Audio)
	if a.Disclaimer != "" {
		r.line("%s", r.muted.Sprint(a.Disclaimer))
	}
}

// Samples lists the built-in sample cases.
func (r *Renderer) Samples(samples []domain.SampleCase) {
	for _, s := range samples {
		r.line("%s  %s", r.label.Sprintf("%-8s", s.Name), preview(s.Narrative))
	}
}

func (r *Renderer) audio(ref *domain.AudioRef) {
	if ref != nil && ref.URL != "" {
		r.line("%s %s", r.label.Sprint("audio reply:"), ref.URL)
	}
}

func (r *Renderer) section(title string) {
	r.line("\n%s", r.heading.Sprint(title))
}

func (r *Renderer) field(name, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	r.line("   %s %s", r.muted.Sprint(name+":"), value)
}

func (r *Renderer) line(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *Renderer) stateColor(s workflow.Snapshot) *color.Color {
	switch {
	case s.Error != nil:
		return r.bad
	case s.InFlight || s.Capturing:
		return r.warn
	default:
		return r.good
	}
}

func (r *Renderer) confidenceColor(c domain.Confidence) *color.Color {
	switch c {
	case domain.ConfidenceHigh:
		return r.good
	case domain.ConfidenceLow:
		return r.bad
	default:
		return r.warn
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= narrativePreviewRunes {
		return text
	}
	return string(runes[:narrativePreviewRunes-1]) + "…"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
