// Package httpapi provides the HTTP REST API for running backtests and
// browsing stored runs.
package httpapi

import (
	"polyagents/internal/domain"
	"polyagents/internal/strategy"
)

// RunRequest is the JSON body of POST /api/v1/backtests. Dates are
// YYYY-MM-DD or RFC 3339 and bound the simulation inclusively.
type RunRequest struct {
	Plan  domain.Plan `json:"plan"`
	Start string      `json:"start,omitempty"`
	End   string      `json:"end,omitempty"`
}

// ToRequest parses the dates into a strategy request.
func (r RunRequest) ToRequest() (strategy.Request, error) {
	start, err := ParseDate(r.Start)
	if err != nil {
		return strategy.Request{}, err
	}
	end, err := ParseDate(r.End)
	if err != nil {
		return strategy.Request{}, err
	}
	return strategy.Request{Plan: r.Plan, Start: start, End: end}, nil
}

// RunListResponse is the body of GET /api/v1/backtests.
type RunListResponse struct {
	Runs []domain.RunSummary `json:"runs"`
}

// PlannersResponse is the body of GET /api/v1/planners.
type PlannersResponse struct {
	Planners []string `json:"planners"`
}
