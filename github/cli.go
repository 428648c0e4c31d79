package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/schacon/git-glance/model"
)

const (
	prFields     = "number,title,body,comments,labels,state,mergeCommit,url,author"
	prListFields = "number,title,body,labels,state,mergeCommit,url,author"
)

// Runner executes the gh binary and returns stdout.
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// CLI looks pull requests up through an authenticated gh installation.
type CLI struct {
	RepoPath string
	Run      Runner
}

var _ Source = CLI{}

func (c CLI) Name() string { return "gh" }

func (c CLI) Check(ctx context.Context) error {
	_, err := c.run(ctx, "auth", "status")
	return err
}

func (c CLI) PullRequest(ctx context.Context, number int) (*model.PullRequest, error) {
	out, err := c.run(ctx, "pr", "view", strconv.Itoa(number), "--json", prFields)
	if err != nil {
		return nil, fmt.Errorf("gh pr view #%d: %w", number, err)
	}
	var pr ghCLIPull
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, fmt.Errorf("%w: parse gh pr view response: %v", model.ErrPRTransient, err)
	}
	return pr.toModel(), nil
}

func (c CLI) PullRequestForCommit(ctx context.Context, sha string) (*model.PullRequest, error) {
	out, err := c.run(ctx, "pr", "list", "--search", sha, "--state", "merged", "--json", prListFields)
	if err != nil {
		return nil, fmt.Errorf("gh pr list --search %s: %w", sha, err)
	}
	var prs []ghCLIPull
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, fmt.Errorf("%w: parse gh pr list response: %v", model.ErrPRTransient, err)
	}
	if len(prs) == 0 {
		return nil, fmt.Errorf("commit %s: %w", sha, model.ErrPRNotFound)
	}
	return prs[0].toModel(), nil
}

func (c CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	run := c.Run
	if run == nil {
		run = execGH
	}
	out, err := run(ctx, c.RepoPath, args...)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, classifyGHError(err)
}

func execGH(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

func classifyGHError(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: gh not installed", model.ErrPRSourceUnavailable)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "could not resolve to a pullrequest"),
		strings.Contains(msg, "no pull requests found"),
		strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", model.ErrPRNotFound, err)
	case strings.Contains(msg, "gh auth login"),
		strings.Contains(msg, "not logged in"),
		strings.Contains(msg, "authentication"):
		return fmt.Errorf("%w: %v", model.ErrPRSourceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrPRTransient, err)
	}
}

type ghCLIPull struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	State    string `json:"state"`
	URL      string `json:"url"`
	Comments []struct {
		Body string `json:"body"`
	} `json:"comments"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	MergeCommit *struct {
		OID string `json:"oid"`
	} `json:"mergeCommit"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
}

func (p ghCLIPull) toModel() *model.PullRequest {
	pr := &model.PullRequest{
		Number: p.Number,
		Title:  p.Title,
		Body:   p.Body,
		URL:    p.URL,
		Author: p.Author.Login,
		State:  model.PRState(strings.ToLower(p.State)),
	}
	if p.MergeCommit != nil {
		pr.MergeCommit = p.MergeCommit.OID
	}
	for _, c := range p.Comments {
		if body := strings.TrimSpace(c.Body); body != "" {
			pr.Comments = append(pr.Comments, body)
		}
	}
	for _, l := range p.Labels {
		pr.Labels = append(pr.Labels, l.Name)
	}
	return pr
}
