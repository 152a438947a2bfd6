package github

import (
	"context"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/jmgilman/go/errors"
)

type RateLimit struct {
	RemainingRest    int       `json:"remainingRest"`
	RemainingGraphql int       `json:"remainingGraphql"`
	ResetRest        time.Time `json:"resetRest"`
	ResetGraphql     time.Time `json:"resetGraphql"`
}

const rateLimitQuery = `query RateLimit {
  rateLimit {
    remaining
    resetAt
  }
}`

type rateLimitResponse struct {
	RateLimit struct {
		Remaining int       `json:"remaining"`
		ResetAt   time.Time `json:"resetAt"`
	} `json:"rateLimit"`
}

func (c *Client) GetRateLimit(ctx context.Context) (RateLimit, error) {
	limits, resp, err := c.rest.RateLimit.Get(ctx)
	if err != nil {
		return RateLimit{}, classifyError(err, resp, "failed fetching REST API rate limit")
	}

	var data rateLimitResponse
	err = c.graphql.MakeRequest(ctx,
		&graphql.Request{OpName: "RateLimit", Query: rateLimitQuery},
		&graphql.Response{Data: &data},
	)
	if err != nil {
		return RateLimit{}, errors.Wrap(err, errors.CodeNetwork, "failed fetching GraphQL API rate limit")
	}

	rl := RateLimit{
		RemainingGraphql: data.RateLimit.Remaining,
		ResetGraphql:     data.RateLimit.ResetAt,
	}
	if core := limits.GetCore(); core != nil {
		rl.RemainingRest = core.Remaining
		rl.ResetRest = core.Reset.Time
	}

	return rl, nil
}
