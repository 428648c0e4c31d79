package model

import (
	"strings"
	"time"
)

type Commit struct {
	Hash      string    `json:"hash"`
	Parents   []string  `json:"parents"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// IsMerge reports whether the commit has more than one parent.
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

func (c Commit) Headline() string {
	return FirstLine(c.Message)
}

func (c Commit) ShortHash() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

type PullRequest struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Comments    []string `json:"comments"`
	Labels      []string `json:"labels"`
	MergeCommit string   `json:"mergeCommit,omitempty"`
	State       PRState  `json:"state"`
	URL         string   `json:"url"`
	Author      string   `json:"author"`
}

// ChangeUnit is one changelog entry: the commits of a single pull request,
// or a single commit that could not be attributed to one.
type ChangeUnit struct {
	Commits  []string     `json:"commits"`
	Messages []string     `json:"messages"`
	PR       *PullRequest `json:"pr,omitempty"`
	Category Category     `json:"category"`
	Summary  string       `json:"summary"`
	Fallback string       `json:"fallback"`
	Provider string       `json:"provider,omitempty"`
	Degraded bool         `json:"degraded"`
}

func (u ChangeUnit) Orphan() bool {
	return u.PR == nil
}

// FallbackSummary is the first line of the fallback description.
func (u ChangeUnit) FallbackSummary() string {
	return FirstLine(u.Fallback)
}

type ClassificationResult struct {
	Category Category `json:"category"`
	Summary  string   `json:"summary"`
	Provider string   `json:"provider,omitempty"`
	Fallback bool     `json:"fallback"`
}

type AssociationKind int

const (
	Unresolved AssociationKind = iota
	Resolved
	TransientFailure
)

type AssociationVia string

const (
	ViaPattern AssociationVia = "pattern"
	ViaRemote  AssociationVia = "remote"
)

// Association is the outcome of attributing one commit to a pull request.
// PR is set when the lookup already returned the metadata.
type Association struct {
	Kind   AssociationKind
	Number int
	Via    AssociationVia
	PR     *PullRequest
	Err    error
}

func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
