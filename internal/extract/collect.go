package extract

import (
	"strings"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// candidateSet accumulates candidates in first-found order, keeping only
// the first candidate for each dedupe key.
type candidateSet struct {
	key  func(string) string
	seen map[string]struct{}
	list []model.Candidate
}

func newCandidateSet(key func(string) string) *candidateSet {
	return &candidateSet{key: key, seen: make(map[string]struct{})}
}

// add appends c unless a candidate with the same key was already added.
func (s *candidateSet) add(c model.Candidate) bool {
	k := s.key(c.Raw)
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	s.list = append(s.list, c)
	return true
}

func exactKey(s string) string { return s }

func foldKey(s string) string { return strings.ToLower(s) }
