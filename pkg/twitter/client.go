package twitter

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/misobs/mectl/pkg/exposure"
	"github.com/misobs/mectl/pkg/net"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	apiHost = "https://api.twitter.com"

	// pageSize is the maximum page size the following lookup
	// endpoint accepts.
	pageSize = 1000

	// rateLimitWaitDefault is used when a 429 response carries no
	// usable reset time. The follows endpoint window is 15 minutes.
	rateLimitWaitDefault = 15 * time.Minute
)

type bearerAuthorizer struct {
	token string
}

func (a bearerAuthorizer) Add(req *http.Request) {
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", a.token))
}

// Client fetches follow lists from the platform v2 API. It implements
// exposure.Fetcher: pagination is transparent and rate limit responses
// are waited out rather than surfaced.
type Client struct {
	api *twitter.Client
}

// New creates a client from a developer bearer token.
func New(token string) (*Client, error) {
	if token == "" {
		return nil, errors.New("bearer token is missing")
	}
	return &Client{
		api: &twitter.Client{
			Authorizer: bearerAuthorizer{token: token},
			Client:     net.GetHTTPClient(),
			Host:       apiHost,
		},
	}, nil
}

// Following returns every follow edge for the given user, paging
// through the following lookup endpoint until exhausted.
func (c *Client) Following(ctx context.Context, userID string) ([]exposure.Edge, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}

	opts := twitter.UserFollowingLookupOpts{
		MaxResults: pageSize,
	}

	edges := make([]exposure.Edge, 0)
	for {
		resp, err := c.api.UserFollowingLookup(ctx, userID, opts)
		if err != nil {
			wait, ok := rateLimitWait(err)
			if !ok {
				return nil, errors.Wrapf(err, "failed to look up following for user: %s", userID)
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.Raw != nil {
			for _, u := range resp.Raw.Users {
				if u == nil {
					continue
				}
				edges = append(edges, exposure.Edge{
					User:             userID,
					FollowedID:       u.ID,
					FollowedName:     u.Name,
					FollowedUsername: u.UserName,
				})
			}
		}

		if resp.Meta == nil || resp.Meta.NextToken == "" {
			break
		}
		opts.PaginationToken = resp.Meta.NextToken
	}

	log.Debugf("user %s follows %d accounts", userID, len(edges))

	return edges, nil
}

// rateLimitWait inspects an API error and, for a 429, returns how long
// to wait before retrying.
func rateLimitWait(err error) (time.Duration, bool) {
	var apiErr *twitter.ErrorResponse
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}

	wait := rateLimitWaitDefault
	if apiErr.RateLimit != nil {
		if until := time.Until(apiErr.RateLimit.Reset.Time()); until > 0 {
			wait = until
		}
	}
	wait += time.Duration(rand.Intn(2000)) * time.Millisecond

	log.Infof("rate limited, waiting %s before retrying", wait.Round(time.Second))

	return wait, true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
