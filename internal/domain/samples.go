package domain

import (
	"fmt"
	"strings"
)

// SampleCase is a built-in example complaint used for demos and smoke tests.
type SampleCase struct {
	Name        string
	Narrative   string
	Evidence    []string
	Aggravating []string
}

// SampleCases lists the bundled examples.
var SampleCases = []SampleCase{
	{
		Name:      "theft",
		Narrative: "A person was caught stealing a mobile phone worth Rs. 15,000 from a shop in Delhi. The shopkeeper reported it immediately and CCTV footage is available.",
		Evidence:  []string{"CCTV", "eyewitness"},
	},
	{
		Name:        "assault",
		Narrative:   "A man attacked another person with a knife in a public market, causing severe injuries. Multiple witnesses present and victim taken to hospital.",
		Evidence:    []string{"eyewitness", "medical report"},
		Aggravating: []string{"weapon", "hurt"},
	},
	{
		Name:      "cyber",
		Narrative: "Unauthorized access to bank account through phishing email, Rs. 50,000 transferred. IP logs and email headers available.",
		Evidence:  []string{"device logs", "call detail records"},
	},
}

// FindSample looks up a sample case by name.
func FindSample(name string) (SampleCase, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	names := make([]string, 0, len(SampleCases))
	for _, sample := range SampleCases {
		if sample.Name == needle {
			return sample, nil
		}
		names = append(names, sample.Name)
	}
	return SampleCase{}, fmt.Errorf("unknown sample %q (expected one of: %s)", name, strings.Join(names, ", "))
}

// Apply loads the sample into s as a complaint, replacing narrative and tags.
func (c SampleCase) Apply(s *Session) error {
	if err := s.EvidenceTags.Replace(c.Evidence); err != nil {
		return err
	}
	if err := s.AggravatingTags.Replace(c.Aggravating); err != nil {
		return err
	}
	s.QueryKind = KindComplaint
	s.NarrativeText = c.Narrative
	return nil
}
