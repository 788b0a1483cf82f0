package domain

import (
	"fmt"
	"strings"
)

// EvidenceVocabulary is the fixed set of evidence tags a complaint may carry.
var EvidenceVocabulary = []string{
	"CCTV",
	"eyewitness",
	"medical report",
	"device logs",
	"FSL",
	"call detail records",
}

// AggravatingVocabulary is the fixed set of aggravating-factor tags a complaint may carry.
var AggravatingVocabulary = []string{
	"weapon",
	"minor victim",
	"habitual offender",
	"conspiracy",
	"hurt",
}

// CanonicalTag resolves raw input against vocabulary case-insensitively.
func CanonicalTag(vocabulary []string, raw string) (string, bool) {
	needle := strings.TrimSpace(raw)
	for _, tag := range vocabulary {
		if strings.EqualFold(tag, needle) {
			return tag, true
		}
	}
	return "", false
}

// TagSet is a set of vocabulary tags listed in vocabulary order.
type TagSet struct {
	vocabulary []string
	members    map[string]struct{}
}

// NewTagSet returns an empty set bound to vocabulary.
func NewTagSet(vocabulary []string) TagSet {
	return TagSet{vocabulary: vocabulary, members: map[string]struct{}{}}
}

// Toggle adds tag when absent and removes it when present. It returns the new membership.
func (s *TagSet) Toggle(raw string) (bool, error) {
	tag, ok := CanonicalTag(s.vocabulary, raw)
	if !ok {
		return false, fmt.Errorf("unknown tag %q (expected one of: %s)", raw, strings.Join(s.vocabulary, ", "))
	}
	if s.members == nil {
		s.members = map[string]struct{}{}
	}
	if _, exists := s.members[tag]; exists {
		delete(s.members, tag)
		return false, nil
	}
	s.members[tag] = struct{}{}
	return true, nil
}

// Replace sets the membership to exactly tags.
func (s *TagSet) Replace(tags []string) error {
	next := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		tag, ok := CanonicalTag(s.vocabulary, raw)
		if !ok {
			return fmt.Errorf("unknown tag %q (expected one of: %s)", raw, strings.Join(s.vocabulary, ", "))
		}
		next[tag] = struct{}{}
	}
	s.members = next
	return nil
}

// Has reports membership of raw.
func (s TagSet) Has(raw string) bool {
	tag, ok := CanonicalTag(s.vocabulary, raw)
	if !ok {
		return false
	}
	_, exists := s.members[tag]
	return exists
}

// Len returns the number of selected tags.
func (s TagSet) Len() int {
	return len(s.members)
}

// List returns selected tags in vocabulary order. The result is never nil.
func (s TagSet) List() []string {
	out := make([]string, 0, len(s.members))
	for _, tag := range s.vocabulary {
		if _, ok := s.members[tag]; ok {
			out = append(out, tag)
		}
	}
	return out
}

// Vocabulary returns the tags this set accepts.
func (s TagSet) Vocabulary() []string {
	return append([]string(nil), s.vocabulary...)
}

// Clone deep-copies the membership map.
func (s TagSet) Clone() TagSet {
	out := TagSet{vocabulary: s.vocabulary, members: make(map[string]struct{}, len(s.members))}
	for tag := range s.members {
		out.members[tag] = struct{}{}
	}
	return out
}
