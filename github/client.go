package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/schacon/git-glance/model"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 15 * time.Second
)

// Client is a GitHub REST client scoped to one repository.
type Client struct {
	baseURL    string
	owner      string
	repo       string
	token      string
	httpClient *resty.Client
}

var _ Source = (*Client)(nil)

type Options struct {
	Token   string
	Owner   string
	Repo    string
	BaseURL string
	Timeout time.Duration
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28")

	if opts.Token != "" {
		client.SetHeader("Authorization", "Bearer "+opts.Token)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		owner:      opts.Owner,
		repo:       opts.Repo,
		token:      opts.Token,
		httpClient: client,
	}
}

func (c *Client) Name() string { return "github" }

// Check confirms the API is reachable and the token, if any, is accepted.
func (c *Client) Check(ctx context.Context) error {
	if c.owner == "" || c.repo == "" {
		return errors.New("github owner/repo unknown")
	}
	resp, err := c.httpClient.R().SetContext(ctx).Get(c.repoURL(""))
	if err != nil {
		return fmt.Errorf("github unreachable: %w", err)
	}
	return statusErr(resp)
}

// PullRequest fetches a pull request and its conversation comments.
func (c *Client) PullRequest(ctx context.Context, number int) (*model.PullRequest, error) {
	resp, err := c.httpClient.R().SetContext(ctx).Get(c.repoURL(fmt.Sprintf("/pulls/%d", number)))
	if err != nil {
		return nil, transportErr(ctx, err)
	}
	if err := statusErr(resp); err != nil {
		return nil, fmt.Errorf("pull request #%d: %w", number, err)
	}

	var pull ghPull
	if err := json.Unmarshal(resp.Body(), &pull); err != nil {
		return nil, fmt.Errorf("%w: parse pull request #%d: %v", model.ErrPRTransient, number, err)
	}

	pr := pull.toModel()
	pr.Comments = c.comments(ctx, number)
	return pr, nil
}

// PullRequestForCommit asks GitHub which pull requests contain sha, preferring a merged one.
// Comments are left empty; PullRequest fetches them.
func (c *Client) PullRequestForCommit(ctx context.Context, sha string) (*model.PullRequest, error) {
	resp, err := c.httpClient.R().SetContext(ctx).Get(c.repoURL("/commits/" + sha + "/pulls"))
	if err != nil {
		return nil, transportErr(ctx, err)
	}
	if err := statusErr(resp); err != nil {
		return nil, fmt.Errorf("pulls for commit %s: %w", sha, err)
	}

	var pulls []ghPull
	if err := json.Unmarshal(resp.Body(), &pulls); err != nil {
		return nil, fmt.Errorf("%w: parse pulls for commit %s: %v", model.ErrPRTransient, sha, err)
	}
	if len(pulls) == 0 {
		return nil, fmt.Errorf("commit %s: %w", sha, model.ErrPRNotFound)
	}

	chosen := pulls[0]
	for _, p := range pulls {
		if p.MergedAt != nil {
			chosen = p
			break
		}
	}

	return chosen.toModel(), nil
}

// comments are enrichment only; a failed fetch leaves them empty.
func (c *Client) comments(ctx context.Context, number int) []string {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("per_page", "100").
		Get(c.repoURL(fmt.Sprintf("/issues/%d/comments", number)))
	if err != nil || statusErr(resp) != nil {
		return nil
	}

	var raw []struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if body := strings.TrimSpace(r.Body); body != "" {
			out = append(out, body)
		}
	}
	return out
}

func (c *Client) repoURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s%s", c.baseURL, c.owner, c.repo, path)
}

type ghPull struct {
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	State          string     `json:"state"`
	HTMLURL        string     `json:"html_url"`
	MergedAt       *time.Time `json:"merged_at"`
	MergeCommitSHA string     `json:"merge_commit_sha"`
	User           struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (p ghPull) toModel() *model.PullRequest {
	pr := &model.PullRequest{
		Number:      p.Number,
		Title:       p.Title,
		Body:        p.Body,
		URL:         p.HTMLURL,
		Author:      p.User.Login,
		MergeCommit: p.MergeCommitSHA,
		State:       model.PRState(p.State),
	}
	if p.MergedAt != nil {
		pr.State = model.PRStateMerged
	}
	for _, l := range p.Labels {
		pr.Labels = append(pr.Labels, l.Name)
	}
	return pr
}

func statusErr(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound, code == http.StatusUnprocessableEntity:
		return model.ErrPRNotFound
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", model.ErrPRSourceUnavailable, resp.Status())
	case code == http.StatusForbidden && !rateLimited(resp):
		return fmt.Errorf("%w: %s", model.ErrPRSourceUnavailable, resp.Status())
	default:
		return fmt.Errorf("%w: %s", model.ErrPRTransient, resp.Status())
	}
}

// rateLimited recognizes both the primary limit (no requests left) and the
// secondary limit, which answers 403 with Retry-After while quota remains.
func rateLimited(resp *resty.Response) bool {
	if resp.Header().Get("X-RateLimit-Remaining") == "0" || resp.Header().Get("Retry-After") != "" {
		return true
	}
	body := strings.ToLower(string(resp.Body()))
	return strings.Contains(body, "secondary rate limit") || strings.Contains(body, "abuse")
}

func transportErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", model.ErrPRTransient, err)
}
