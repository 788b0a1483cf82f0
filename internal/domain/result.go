package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ErrorKind classifies failures surfaced to the presentation layer.
type ErrorKind string

const (
	ErrorPermission          ErrorKind = "PermissionError"
	ErrorDeviceUnavailable   ErrorKind = "DeviceUnavailable"
	ErrorTranscriptionFailed ErrorKind = "TranscriptionFailed"
	ErrorValidation          ErrorKind = "ValidationError"
	ErrorAnalysisFailed      ErrorKind = "AnalysisFailed"
	ErrorChatFailed          ErrorKind = "ChatFailed"
	ErrorTimeout             ErrorKind = "Timeout"
)

// SubmissionResult is one of Transcription, LegalAnalysis, ChatAnswer, or Failure.
type SubmissionResult interface {
	resultKind() string
}

// ResultKind names the concrete variant of r, or "" for nil.
func ResultKind(r SubmissionResult) string {
	if r == nil {
		return ""
	}
	return r.resultKind()
}

// AudioOf returns the synthesized audio reference a result carries, if any.
func AudioOf(r SubmissionResult) *AudioRef {
	switch v := r.(type) {
	case Transcription:
		return v.Audio
	case LegalAnalysis:
		return v.Audio
	case ChatAnswer:
		return v.Audio
	default:
		return nil
	}
}

// AudioRef points at a synthesized audio resource relative to the service base URL.
type AudioRef struct {
	URL string `json:"url"`
}

// Transcription is the speech-to-text output for one artifact.
type Transcription struct {
	Text  string
	Audio *AudioRef
}

func (Transcription) resultKind() string { return "transcription" }

// ChatAnswer is the reply to a question routed through the chat endpoint.
type ChatAnswer struct {
	Text  string
	Audio *AudioRef
}

func (ChatAnswer) resultKind() string { return "chat_answer" }

// Failure is a terminal result for one request.
type Failure struct {
	Kind    ErrorKind
	Message string
}

func (Failure) resultKind() string { return "failure" }

func (f Failure) Error() string {
	return f.Message
}

// Confidence is the service's self-reported confidence. Unknown values are kept verbatim.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// LegalAnalysis is the structured payload returned for complaints and legal-route questions.
type LegalAnalysis struct {
	Summary             string               `json:"summary"`
	Provisions          []Provision          `json:"applicable_provisions"`
	SimilarCases        []Case               `json:"similar_cases"`
	SimilarJudgments    []Case               `json:"similar_judgments"`
	InvestigationTips   []string             `json:"investigation_tips"`
	Confidence          Confidence           `json:"confidence"`
	Disclaimer          string               `json:"disclaimer"`
	Answer              string               `json:"answer"`
	ProceduralGuidance  string               `json:"procedural_guidance"`
	JurisdictionalNotes *JurisdictionalNotes `json:"jurisdictional_notes,omitempty"`
	Audio               *AudioRef            `json:"-"`
}

func (LegalAnalysis) resultKind() string { return "legal_analysis" }

// Cases returns similar cases regardless of which key the service used.
func (a LegalAnalysis) Cases() []Case {
	if len(a.SimilarCases) > 0 {
		return a.SimilarCases
	}
	return a.SimilarJudgments
}

// Provision is one statute section the service considers applicable.
type Provision struct {
	Code            string         `json:"code"`
	Statute         string         `json:"statute"`
	Section         string         `json:"section"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	ProvisionText   string         `json:"provision_text"`
	WhyApplicable   string         `json:"why_applicable"`
	PunishmentRange string         `json:"punishment_range"`
	Classification  Classification `json:"classification"`
	BailableStatus  string         `json:"bailable_status"`
	Cognizable      string         `json:"cognizable_status"`
	CourtTriableBy  string         `json:"court_triable_by"`
	LastAmended     string         `json:"last_amended"`
	SourceURL       string         `json:"source_url"`
	Sources         []string       `json:"sources"`
}

// Heading renders the provision's identifying label.
func (p Provision) Heading() string {
	switch {
	case p.Code != "" && p.Title != "":
		return p.Code + " " + p.Title
	case p.Statute != "" && p.Section != "":
		return p.Statute + " s." + p.Section
	case p.Code != "":
		return p.Code
	default:
		return p.Title
	}
}

// Classification captures cognizable/bailable flags and punishment text.
type Classification struct {
	Cognizable Flag   `json:"cognizable"`
	Bailable   Flag   `json:"bailable"`
	Punishment string `json:"punishment"`
}

// Flag accepts either a JSON boolean or a free-form string.
type Flag string

// UnmarshalJSON decodes booleans as "yes"/"no" and strings verbatim.
func (f *Flag) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if b, err := strconv.ParseBool(trimmed); err == nil {
		if b {
			*f = "yes"
		} else {
			*f = "no"
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = Flag(s)
	return nil
}

// Case is one similar judgment cited by the service.
type Case struct {
	Citation        string `json:"citation"`
	NeutralCitation string `json:"neutral_citation"`
	Court           string `json:"court"`
	Year            Year   `json:"year"`
	Holding         string `json:"holding"`
	SimilarityNotes string `json:"similarity_notes"`
	SourceURL       string `json:"source_url"`
}

// Year accepts numeric or string years.
type Year string

// UnmarshalJSON decodes numeric and string years.
func (y *Year) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*y = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*y = Year(s)
		return nil
	}
	*y = Year(trimmed)
	return nil
}

// JurisdictionalNotes carries state-specific caveats.
type JurisdictionalNotes struct {
	LocalActsCheck Flag   `json:"local_acts_check"`
	Details        string `json:"details"`
}
