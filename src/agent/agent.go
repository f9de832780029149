// Package agent wraps an optional grounding call to an Azure AI Foundry
// agent configured with web grounding. The rest of this system only ever
// sees the single bounded Run call; everything about threads, runs, and
// message polling is private to this package.
package agent

import (
	"context"
)

// Agent is the single operation the mediator needs from the grounding
// integration: answer a query, or report that it couldn't within budget.
type Agent interface {
	Run(ctx context.Context, query string, correlation map[string]string) (text string, ok bool)
}

// NoopAgent always reports no answer. It satisfies Agent when grounding is
// disabled, so callers never need to nil-check the agent.
type NoopAgent struct{}

func (NoopAgent) Run(ctx context.Context, query string, correlation map[string]string) (string, bool) {
	return "", false
}
