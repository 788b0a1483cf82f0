package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/fsm"
	"github.com/rbright/vakil/internal/workflow"
	"github.com/stretchr/testify/require"
)

func TestAnalysisPlain(t *testing.T) {
	var out bytes.Buffer
	New(&out, true).Result(domain.LegalAnalysis{
		Summary: "Theft of a mobile phone from a shop.",
		Provisions: []domain.Provision{{
			Code:            "BNS 303",
			Title:           "Theft",
			WhyApplicable:   "dishonest taking of movable property",
			PunishmentRange: "up to 3 years",
			Classification:  domain.Classification{Cognizable: "yes", Bailable: "no"},
		}},
		SimilarJudgments:  []domain.Case{{Citation: "State v. Kumar", Court: "Delhi HC", Year: "2019", Holding: "conviction upheld"}},
		InvestigationTips: []string{"Preserve CCTV footage"},
		Confidence:        domain.ConfidenceHigh,
		Disclaimer:        "Not legal advice.",
		Audio:             &domain.AudioRef{URL: "/audio/reply.wav"},
	})

	text := out.String()
	require.NotContains(t, text, "\x1b[")
	require.Contains(t, text, "Summary\nTheft of a mobile phone from a shop.")
	require.Contains(t, text, "1. BNS 303 Theft")
	require.Contains(t, text, "why: dishonest taking of movable property")
	require.Contains(t, text, "cognizable: yes")
	require.Contains(t, text, "bailable: no")
	require.Contains(t, text, "1. State v. Kumar (Delhi HC 2019)")
	require.Contains(t, text, "- Preserve CCTV footage")
	require.Contains(t, text, "confidence: high")
	require.Contains(t, text, "audio reply: /audio/reply.wav")
	require.True(t, strings.HasSuffix(text, "Not legal advice.\n"))
	require.NotContains(t, text, "Procedure")
}

func TestColorOutputWhenEnabled(t *testing.T) {
	var out bytes.Buffer
	New(&out, false).Failure(domain.Failure{Kind: domain.ErrorTimeout, Message: "slow"})
	require.Contains(t, out.String(), "\x1b[")
	require.Contains(t, out.String(), "slow")
}

func TestResultVariants(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, true)

	r.Result(domain.ChatAnswer{Text: "Bail is a right for bailable offences."})
	r.Result(domain.Transcription{Text: "hello"})
	r.Result(domain.Failure{Kind: domain.ErrorChatFailed})
	r.Result(nil)

	text := out.String()
	require.Contains(t, text, "Answer\nBail is a right for bailable offences.")
	require.Contains(t, text, "Transcription\nhello")
	require.Contains(t, text, "[ChatFailed] request failed")
	require.Contains(t, text, "no result")
}

func TestSnapshotShowsSessionAndError(t *testing.T) {
	session := domain.NewSession(domain.Defaults{})
	session.NarrativeText = strings.Repeat("word ", 40)
	session.LocationHint = "Chennai"
	_, err := session.EvidenceTags.Toggle("cctv")
	require.NoError(t, err)

	var out bytes.Buffer
	New(&out, true).Snapshot(workflow.Snapshot{
		State:         fsm.StateFailed,
		Session:       session,
		HasArtifact:   true,
		ArtifactBytes: 3200,
		Device:        "USB mic",
		Error:         &domain.Failure{Kind: domain.ErrorAnalysisFailed, Message: "rate limited"},
	})

	text := out.String()
	require.Contains(t, text, "state: failed")
	require.Contains(t, text, "kind: complaint  mode: text  lang: auto  speak: false")
	require.Contains(t, text, "location: Chennai")
	require.Contains(t, text, "evidence: CCTV")
	require.Contains(t, text, "…")
	require.Contains(t, text, "recording: 3200 bytes from USB mic")
	require.Contains(t, text, "[AnalysisFailed] rate limited")
	require.NotContains(t, text, "aggravating:")
}

func TestSamples(t *testing.T) {
	var out bytes.Buffer
	New(&out, true).Samples(domain.SampleCases)
	require.Equal(t, len(domain.SampleCases), strings.Count(out.String(), "\n"))
	require.Contains(t, out.String(), "theft")
}
