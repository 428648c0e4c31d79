// Package github looks up pull request metadata on the collaboration platform.
package github

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/schacon/git-glance/model"
)

// Source returns pull request metadata, model.ErrPRNotFound, model.ErrPRTransient
// or model.ErrPRSourceUnavailable. PullRequestForCommit leaves Comments empty.
type Source interface {
	PullRequest(ctx context.Context, number int) (*model.PullRequest, error)
	PullRequestForCommit(ctx context.Context, sha string) (*model.PullRequest, error)
}

var remotePattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`)

// ParseRemote extracts owner and repository from a GitHub remote URL (https or ssh form).
func ParseRemote(url string) (owner, repo string, err error) {
	m := remotePattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return "", "", fmt.Errorf("not a github remote: %q", url)
	}
	return m[1], m[2], nil
}
