// Package tools holds the search tools research agents consult.
package tools

import "context"

// Tool is something an agent can query. Failures are reported inside the
// returned text so the model can see and work around them; Run only errors
// when ctx ends.
type Tool interface {
	Name() string
	Run(ctx context.Context, query string) (string, error)
}
