// internal/github/client.go
package github

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	custom_errors "github-star-sync/internal/errors"
	"github-star-sync/internal/model"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com/"

	// DefaultPerPage is the largest page size GitHub accepts.
	DefaultPerPage = 100

	// DefaultTimeout bounds a single page request.
	DefaultTimeout = 30 * time.Second

	userAgent = "github-star-sync"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing requests across all users. Zero disables throttling.
	RequestsPerSecond float64
	// HTTPClient supplies the base transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client fetches starred repositories from GitHub. It never retries; failures
// are returned as one of the typed errors in internal/errors.
type Client struct {
	base    *http.Client
	baseURL *url.URL
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// PageResult is one page of the starred list with its pagination metadata.
// A zero page number means the relation was absent from the Link header.
type PageResult struct {
	Items     []model.StarredRepo
	PrevPage  int
	NextPage  int
	LastPage  int
	Remaining int
}

// NewClient creates and configures a new Client instance.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	rawURL := opts.BaseURL
	if rawURL == "" {
		rawURL = DefaultBaseURL
	}
	if !strings.HasSuffix(rawURL, "/") {
		rawURL += "/"
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		base:    base,
		baseURL: baseURL,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// FetchPage fetches one page of the repositories starred by the owner of accessToken.
func (c *Client) FetchPage(ctx context.Context, accessToken string, page, perPage int) (*PageResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &custom_errors.RequestError{Cause: err}
	}

	opts := &github.ActivityListStarredOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	c.logger.Debug("Fetching starred page", "page", page, "per_page", perPage)
	starred, resp, err := c.clientFor(ctx, accessToken).Activity.ListStarred(ctx, "", opts)
	if err != nil {
		return nil, c.classify(err)
	}

	result := &PageResult{
		Items:     make([]model.StarredRepo, 0, len(starred)),
		PrevPage:  resp.PrevPage,
		NextPage:  resp.NextPage,
		LastPage:  resp.LastPage,
		Remaining: resp.Rate.Remaining,
	}
	for _, s := range starred {
		if s.GetRepository() == nil {
			continue
		}
		result.Items = append(result.Items, toStarredRepo(s))
	}

	c.logger.Debug("Fetched starred page", "page", page, "items", len(result.Items),
		"last_page", resp.LastPage, "rate_remaining", resp.Rate.Remaining)
	return result, nil
}

// clientFor builds a go-github client authenticated with token on top of the shared transport.
func (c *Client) clientFor(ctx context.Context, token string) *github.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	tc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	tc.Timeout = c.timeout

	gh := github.NewClient(tc)
	gh.BaseURL = c.baseURL
	gh.UserAgent = userAgent
	return gh
}

// classify maps go-github failures onto the error taxonomy.
func (c *Client) classify(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &custom_errors.RateLimitError{
			RetryAfterSeconds: retryAfter(rateErr.Rate.Reset.Time, c.now()),
			Message:           rateErr.Message,
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		secs := custom_errors.RetryAfterFallback
		if abuseErr.RetryAfter != nil {
			secs = int(math.Ceil(abuseErr.RetryAfter.Seconds()))
		}
		return &custom_errors.RateLimitError{RetryAfterSeconds: secs, Message: abuseErr.Message}
	}

	var otpErr *github.TwoFactorAuthError
	if errors.As(err, &otpErr) {
		return &custom_errors.AuthError{Message: "GitHub requires a second authentication factor. Please re-authenticate."}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if respErr.Response.StatusCode == http.StatusUnauthorized {
			return &custom_errors.AuthError{Message: "GitHub token expired or invalid. Please re-authenticate."}
		}
		return &custom_errors.APIError{Status: respErr.Response.StatusCode, Message: respErr.Message}
	}

	return &custom_errors.RequestError{Cause: err}
}

// retryAfter returns the whole seconds until reset, or the fallback when GitHub sent no reset time.
func retryAfter(reset, now time.Time) int {
	if reset.IsZero() {
		return custom_errors.RetryAfterFallback
	}
	wait := reset.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

// toStarredRepo translates a github.StarredRepository object to our internal model.
func toStarredRepo(s *github.StarredRepository) model.StarredRepo {
	r := s.GetRepository()

	var pushedAt *time.Time
	if r.PushedAt != nil {
		t := r.PushedAt.Time
		pushedAt = &t
	}

	return model.StarredRepo{
		Repository: model.Repository{
			ID:            r.GetID(),
			Name:          r.GetName(),
			Owner:         r.GetOwner().GetLogin(),
			FullName:      r.GetFullName(),
			Description:   nonEmpty(r.Description),
			StarCount:     r.GetStargazersCount(),
			Language:      nonEmpty(r.Language),
			Topics:        r.Topics,
			RepoCreatedAt: r.GetCreatedAt().Time,
			PushedAt:      pushedAt,
		},
		StarredAt: s.GetStarredAt().Time,
	}
}

// nonEmpty drops empty strings so they are stored as NULL.
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
