// Package notify files GitHub issues for hard test failures after a run.
// One issue per failing case; repeat failures get a comment on the open
// issue instead of a duplicate.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nhantruonghcmut/uitf/api/schemas"
	"github.com/nhantruonghcmut/uitf/internal/config"
)

// issuesService is the slice of the GitHub API the notifier uses, split out
// so tests can fake it.
type issuesService interface {
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	ListByRepo(ctx context.Context, owner, repo string, opts *github.IssueListByRepoOptions) ([]*github.Issue, *github.Response, error)
}

// Notifier files failure issues against one repository.
type Notifier struct {
	issues  issuesService
	owner   string
	repo    string
	labels  []string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewNotifier builds a notifier from configuration. The token must carry
// repo scope on the target repository.
func NewNotifier(cfg config.GitHubConfig, logger *zap.Logger) *Notifier {
	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = []string{"test-failure"}
	}
	return &Notifier{
		issues: client.Issues,
		owner:  cfg.RepoOwner,
		repo:   cfg.RepoName,
		labels: labels,
		// The search+create pattern burns two requests per failure; half a
		// request per second stays far under GitHub's secondary limits.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:  logger.Named("notify"),
	}
}

// NotifyFailures files or updates one issue per hard failure in the run.
// Broken (retried-to-green) cases are skipped.
func (n *Notifier) NotifyFailures(ctx context.Context, run *schemas.RunResult) error {
	var errs []string
	for _, tr := range run.Results {
		if tr.Status != schemas.StatusFailed {
			continue
		}
		if err := n.notifyCase(ctx, run, tr); err != nil {
			n.logger.Error("Failed to file issue for case.",
				zap.String("suite", tr.Suite), zap.String("case", tr.Name), zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s/%s: %v", tr.Suite, tr.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to notify %d case(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (n *Notifier) notifyCase(ctx context.Context, run *schemas.RunResult, tr schemas.TestResult) error {
	title := issueTitle(tr)

	existing, err := n.findOpenIssue(ctx, title)
	if err != nil {
		return err
	}

	body := issueBody(run, tr)
	if existing != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		_, _, err := n.issues.CreateComment(ctx, n.owner, n.repo, existing.GetNumber(),
			&github.IssueComment{Body: github.String(body)})
		if err != nil {
			return fmt.Errorf("failed to comment on issue #%d: %w", existing.GetNumber(), err)
		}
		n.logger.Info("Commented on existing failure issue.",
			zap.Int("issue", existing.GetNumber()), zap.String("case", tr.Name))
		return nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	issue, _, err := n.issues.Create(ctx, n.owner, n.repo, &github.IssueRequest{
		Title:  github.String(title),
		Body:   github.String(body),
		Labels: &n.labels,
	})
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	n.logger.Info("Filed failure issue.",
		zap.Int("issue", issue.GetNumber()), zap.String("case", tr.Name))
	return nil
}

// findOpenIssue scans open issues with our labels for a matching title.
func (n *Notifier) findOpenIssue(ctx context.Context, title string) (*github.Issue, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      n.labels,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	issues, _, err := n.issues.ListByRepo(ctx, n.owner, n.repo, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	for _, issue := range issues {
		if issue.GetTitle() == title {
			return issue, nil
		}
	}
	return nil, nil
}

func issueTitle(tr schemas.TestResult) string {
	return fmt.Sprintf("[uitf] %s / %s failing", tr.Suite, tr.Name)
}

func issueBody(run *schemas.RunResult, tr schemas.TestResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test `%s / %s` failed.\n\n", tr.Suite, tr.Name)
	fmt.Fprintf(&b, "- Run: `%s`\n", run.RunID)
	fmt.Fprintf(&b, "- Environment: `%s`\n", run.Environment)
	fmt.Fprintf(&b, "- Platform: `%s`\n", tr.Platform)
	fmt.Fprintf(&b, "- Started: %s\n", tr.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Retries consumed: %d\n\n", tr.Retries)
	fmt.Fprintf(&b, "```\n%s\n```\n", tr.Error)
	return b.String()
}
