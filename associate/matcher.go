// Package associate attributes commits to pull requests and folds them into change units.
package associate

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/schacon/git-glance/model"
)

// Matcher extracts a pull request number from commit messages without a remote call.
// Merge patterns run against the full message of merge commits; squash patterns run
// against the headline of ordinary commits.
type Matcher struct {
	merge  []*regexp.Regexp
	squash []*regexp.Regexp
}

func NewMatcher(mergePatterns, squashPatterns []string) (*Matcher, error) {
	merge, err := compile(mergePatterns)
	if err != nil {
		return nil, err
	}
	squash, err := compile(squashPatterns)
	if err != nil {
		return nil, err
	}
	return &Matcher{merge: merge, squash: squash}, nil
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("pattern %q needs a capture group for the pull request number", p)
		}
		out = append(out, re)
	}
	return out, nil
}

// Match returns the pull request number embedded in the commit message, if any.
func (m *Matcher) Match(c model.Commit) (int, bool) {
	if m == nil {
		return 0, false
	}
	if c.IsMerge() {
		return firstMatch(m.merge, c.Message)
	}
	return firstMatch(m.squash, c.Headline())
}

func firstMatch(patterns []*regexp.Regexp, text string) (int, bool) {
	for _, re := range patterns {
		if n := parsePRNumber(re, text); n != 0 {
			return n, true
		}
	}
	return 0, false
}

func parsePRNumber(re *regexp.Regexp, text string) int {
	match := re.FindStringSubmatch(text)
	if len(match) < 2 {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}
