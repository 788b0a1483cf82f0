// Package domain holds the query session model shared by capture, clients, and the workflow.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Language is the language hint sent with transcription and analysis requests.
type Language string

const (
	LanguageAuto    Language = "auto"
	LanguageEnglish Language = "english"
	LanguageHindi   Language = "hindi"
	LanguageTamil   Language = "tamil"
)

// Languages lists every accepted language in display order.
var Languages = []Language{LanguageAuto, LanguageEnglish, LanguageHindi, LanguageTamil}

// ParseLanguage normalizes user input into a Language.
func ParseLanguage(raw string) (Language, error) {
	candidate := Language(strings.ToLower(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown language %q (expected one of: auto, english, hindi, tamil)", raw)
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	for _, known := range Languages {
		if l == known {
			return true
		}
	}
	return false
}

// InputMode selects between typed and spoken narrative entry.
type InputMode string

const (
	InputText  InputMode = "text"
	InputVoice InputMode = "voice"
)

// ParseInputMode normalizes user input into an InputMode.
func ParseInputMode(raw string) (InputMode, error) {
	switch InputMode(strings.ToLower(strings.TrimSpace(raw))) {
	case InputText:
		return InputText, nil
	case InputVoice:
		return InputVoice, nil
	default:
		return "", fmt.Errorf("unknown input mode %q (expected text or voice)", raw)
	}
}

// QueryKind classifies the submission as an incident complaint or a general question.
type QueryKind string

const (
	KindComplaint QueryKind = "complaint"
	KindQuestion  QueryKind = "question"
)

// ParseQueryKind normalizes user input into a QueryKind.
func ParseQueryKind(raw string) (QueryKind, error) {
	switch QueryKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindComplaint:
		return KindComplaint, nil
	case KindQuestion:
		return KindQuestion, nil
	default:
		return "", fmt.Errorf("unknown query kind %q (expected complaint or question)", raw)
	}
}

// Defaults are the values a Session returns to on creation and reset.
type Defaults struct {
	Language         Language
	InputMode        InputMode
	QueryKind        QueryKind
	WantsSpokenReply bool
}

// Session is one user interaction. It is owned by a single workflow and never persisted.
type Session struct {
	Language         Language
	InputMode        InputMode
	QueryKind        QueryKind
	NarrativeText    string
	LocationHint     string
	EvidenceTags     TagSet
	AggravatingTags  TagSet
	WantsSpokenReply bool
}

// NewSession returns an empty session seeded with defaults.
func NewSession(defaults Defaults) Session {
	s := Session{}
	s.Reset(defaults)
	return s
}

// Reset returns every field to its empty default.
func (s *Session) Reset(defaults Defaults) {
	language := defaults.Language
	if !language.Valid() {
		language = LanguageAuto
	}
	mode := defaults.InputMode
	if mode == "" {
		mode = InputText
	}
	kind := defaults.QueryKind
	if kind == "" {
		kind = KindComplaint
	}

	*s = Session{
		Language:         language,
		InputMode:        mode,
		QueryKind:        kind,
		EvidenceTags:     NewTagSet(EvidenceVocabulary),
		AggravatingTags:  NewTagSet(AggravatingVocabulary),
		WantsSpokenReply: defaults.WantsSpokenReply,
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s Session) Clone() Session {
	out := s
	out.EvidenceTags = s.EvidenceTags.Clone()
	out.AggravatingTags = s.AggravatingTags.Clone()
	return out
}

// HasNarrative reports whether the composed narrative is non-empty after trimming.
func (s Session) HasNarrative() bool {
	return strings.TrimSpace(s.NarrativeText) != ""
}

// Request snapshots the session into an immutable submission request.
func (s Session) Request(now time.Time) SubmissionRequest {
	return SubmissionRequest{
		Narrative:        strings.TrimSpace(s.NarrativeText),
		Location:         strings.TrimSpace(s.LocationHint),
		Evidence:         s.EvidenceTags.List(),
		Aggravating:      s.AggravatingTags.List(),
		KnownSections:    []string{},
		KeyEntities:      []string{},
		Language:         s.Language,
		Kind:             s.QueryKind,
		WantsSpokenReply: s.WantsSpokenReply,
		SubmittedAt:      now.UTC(),
	}
}

// SubmissionRequest is the payload snapshot handed to the analysis client.
type SubmissionRequest struct {
	Narrative        string    `validate:"notblank"`
	Location         string    `validate:"max=200"`
	Evidence         []string  `validate:"dive,evidence"`
	Aggravating      []string  `validate:"dive,aggravating"`
	KnownSections    []string  `validate:"dive,notblank"`
	KeyEntities      []string  `validate:"dive,notblank"`
	Language         Language  `validate:"language"`
	Kind             QueryKind `validate:"oneof=complaint question"`
	WantsSpokenReply bool
	SubmittedAt      time.Time
}
