package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/fathomlabs/fathom/internal/activities"
	"github.com/fathomlabs/fathom/internal/ledger"
)

// summaryWindow bounds how many recent iteration digests are fed back into
// the exploration prompt so context stays small on long runs.
const summaryWindow = 2

// runExplore invokes the exploration capability once and merges the
// returned candidates into the ledger. Dedupe and the active-set cap live
// in the ledger; candidate order is the capability's own priority order.
func runExplore(ctx workflow.Context, input ResearchInput, led *ledger.Ledger, iteration int) (int, error) {
	logger := workflow.GetLogger(ctx)

	var res activities.ProposeSubTopicsResult
	err := workflow.ExecuteActivity(ctx, "ProposeSubTopics", activities.ProposeSubTopicsInput{
		Query:         input.Query,
		Iteration:     iteration,
		LedgerSummary: led.Summary(summaryWindow),
		MaxTopics:     input.MaxActiveSubTopics,
	}).Get(ctx, &res)
	if err != nil {
		return 0, err
	}

	candidates := make([]ledger.Candidate, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		candidates = append(candidates, ledger.Candidate{
			Name:        c.Name,
			Description: c.Description,
			Priority:    c.Priority,
		})
	}
	added := led.Merge(candidates, input.MaxActiveSubTopics)

	logger.Info("Exploration complete",
		"iteration", iteration,
		"candidates", len(res.Candidates),
		"added", len(added),
		"active_topics", len(led.ActiveTopics()),
	)
	return res.TokensUsed, nil
}
