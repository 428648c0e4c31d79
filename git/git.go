package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/schacon/git-glance/model"
)

// CommitSource is the read-only view of history the resolver and associator need.
type CommitSource interface {
	ResolveRef(ctx context.Context, ref string) (string, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	// Log returns the commits reachable from to but not from from, oldest first.
	Log(ctx context.Context, from, to string) ([]model.Commit, error)
	Parents(ctx context.Context, hash string) ([]string, error)
	LatestTag(ctx context.Context, ref string) (string, error)
	CommitTime(ctx context.Context, hash string) (time.Time, error)
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	logFormat = "--format=%H%x1f%P%x1f%an%x1f%at%x1f%B%x1e"
)

// Repo runs the git CLI against a working copy.
type Repo struct {
	Path string
}

var _ CommitSource = Repo{}

func (r Repo) Name() string { return "git" }

// Check verifies git is installed and Path is inside a work tree.
func (r Repo) Check(ctx context.Context) error {
	_, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err
}

func (r Repo) ResolveRef(ctx context.Context, ref string) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if isExit(err, 1) || isExit(err, 128) {
			return "", fmt.Errorf("%w: %s", model.ErrUnresolvableRef, ref)
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (r Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if isExit(err, 1) {
		return false, nil
	}
	return false, err
}

func (r Repo) Log(ctx context.Context, from, to string) ([]model.Commit, error) {
	rangeSpec := to
	if from != "" {
		rangeSpec = fmt.Sprintf("%s..%s", from, to)
	}
	out, err := r.run(ctx, "log", "--reverse", logFormat, rangeSpec)
	if err != nil {
		return nil, fmt.Errorf("git log %s: %w", rangeSpec, err)
	}
	return parseLog(out)
}

func (r Repo) Parents(ctx context.Context, hash string) ([]string, error) {
	out, err := r.run(ctx, "rev-list", "--parents", "-n", "1", hash)
	if err != nil {
		return nil, fmt.Errorf("git rev-list %s: %w", hash, err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrUnresolvableRef, hash)
	}
	return fields[1:], nil
}

func (r Repo) LatestTag(ctx context.Context, ref string) (string, error) {
	out, err := r.run(ctx, "describe", "--tags", "--abbrev=0", ref)
	if err != nil {
		if isExit(err, 128) {
			return "", fmt.Errorf("%w: no tag reachable from %s", model.ErrUnresolvableRef, ref)
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (r Repo) CommitTime(ctx context.Context, hash string) (time.Time, error) {
	out, err := r.run(ctx, "show", "-s", "--format=%ct", hash)
	if err != nil {
		return time.Time{}, fmt.Errorf("git show %s: %w", hash, err)
	}
	return parseUnix(strings.TrimSpace(string(out)))
}

// RemoteURL returns the fetch URL of a named remote.
func (r Repo) RemoteURL(ctx context.Context, name string) (string, error) {
	out, err := r.run(ctx, "remote", "get-url", name)
	if err != nil {
		return "", fmt.Errorf("git remote get-url %s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r Repo) run(ctx context.Context, args ...string) ([]byte, error) {
	path := r.Path
	if path == "" {
		path = "."
	}
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", path}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%w: git executable not found", model.ErrCommitSourceUnavailable)
	}
	msg := strings.TrimSpace(stderr.String())
	if strings.Contains(msg, "not a git repository") {
		return nil, fmt.Errorf("%w: %s", model.ErrCommitSourceUnavailable, msg)
	}
	return nil, &commandError{args: args, stderr: msg, err: err}
}

type commandError struct {
	args   []string
	stderr string
	err    error
}

func (e *commandError) Error() string {
	if e.stderr == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.args, " "), e.err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.args, " "), e.err, e.stderr)
}

func (e *commandError) Unwrap() error { return e.err }

func isExit(err error, code int) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == code
}

func parseLog(out []byte) ([]model.Commit, error) {
	var commits []model.Commit
	for _, record := range strings.Split(string(out), recordSep) {
		record = strings.TrimLeft(record, "\n")
		if strings.TrimSpace(record) == "" {
			continue
		}
		parts := strings.SplitN(record, fieldSep, 5)
		if len(parts) != 5 {
			return nil, fmt.Errorf("malformed git log record: %q", record)
		}
		ts, err := parseUnix(parts[3])
		if err != nil {
			return nil, err
		}
		commits = append(commits, model.Commit{
			Hash:      strings.TrimSpace(parts[0]),
			Parents:   strings.Fields(parts[1]),
			Author:    strings.TrimSpace(parts[2]),
			Timestamp: ts,
			Message:   strings.TrimSpace(parts[4]),
		})
	}
	return commits, nil
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit time %q: %w", s, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}
