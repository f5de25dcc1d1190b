package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/fathomlabs/fathom/internal/activities"
	"github.com/fathomlabs/fathom/internal/ledger"
)

// topicOutcome is the fan-in payload for one sub-topic's exploitation round.
type topicOutcome struct {
	TopicID    string
	Results    []ledger.SearchResult
	Gaps       []ledger.SearchGap
	PlanFailed bool
	EmptyPlan  bool
	TokensUsed int
}

// searchOutcome is the fan-in payload for one search query.
type searchOutcome struct {
	Index   int
	Query   string
	Content string
	Tokens  int
	Err     error
}

// runExploit deepens every active sub-topic concurrently: per topic, build
// a search plan and fan out one search per planned query. Failures are
// absorbed here — a failed query becomes a gap, a failed plan skips the
// topic for this iteration — and never propagate upward. Only this
// function's main lane mutates the ledger; outcomes are merged by topic ID
// in ledger order, never by arrival order.
func runExploit(ctx workflow.Context, input ResearchInput, led *ledger.Ledger, iteration int) (ledger.IterationRecord, int) {
	logger := workflow.GetLogger(ctx)
	active := led.ActiveTopics()
	summary := led.Summary(summaryWindow)

	outcomeCh := workflow.NewChannel(ctx)
	for _, t := range active {
		topic := t
		workflow.Go(ctx, func(gCtx workflow.Context) {
			outcomeCh.Send(gCtx, exploitTopic(gCtx, input, topic, iteration, summary))
		})
	}

	outcomes := make(map[string]topicOutcome, len(active))
	for range active {
		var o topicOutcome
		outcomeCh.Receive(ctx, &o)
		outcomes[o.TopicID] = o
	}

	record := ledger.IterationRecord{Iteration: iteration}
	tokens := 0
	for _, topic := range active {
		o := outcomes[topic.ID]
		tokens += o.TokensUsed
		record.TopicIDs = append(record.TopicIDs, topic.ID)
		record.Results = append(record.Results, o.Results...)
		record.Gaps = append(record.Gaps, o.Gaps...)

		switch {
		case o.PlanFailed:
			// Recoverable: the topic sat out this iteration and stays
			// active, so a later iteration can retry it.
			logger.Warn("Search plan build failed, topic skipped for iteration",
				"topic_id", topic.ID,
				"iteration", iteration,
			)
		case o.EmptyPlan:
			// The capability signaled nothing further to investigate.
			led.MarkExhausted(topic.ID)
			logger.Info("Empty search plan, topic exhausted",
				"topic_id", topic.ID,
				"iteration", iteration,
			)
		default:
			led.AdvanceDepth(topic.ID, input.MaxDepthPerTopic)
		}
	}
	return record, tokens
}

// exploitTopic runs one sub-topic's round: plan, inner fan-out of searches,
// fan-in as a set. Partial results are kept; each failed query is recorded
// as a gap.
func exploitTopic(ctx workflow.Context, input ResearchInput, topic ledger.SubTopic, iteration int, summary string) topicOutcome {
	out := topicOutcome{TopicID: topic.ID}

	var plan activities.BuildSearchPlanResult
	err := workflow.ExecuteActivity(ctx, "BuildSearchPlan", activities.BuildSearchPlanInput{
		Query:            input.Query,
		TopicID:          topic.ID,
		TopicName:        topic.Name,
		TopicDescription: topic.Description,
		Depth:            topic.Depth,
		Iteration:        iteration,
		LedgerSummary:    summary,
	}).Get(ctx, &plan)
	if err != nil {
		out.PlanFailed = true
		out.Gaps = append(out.Gaps, ledger.SearchGap{
			TopicID:   topic.ID,
			Iteration: iteration,
			Reason:    fmt.Sprintf("search plan build failed: %v", err),
		})
		return out
	}
	out.TokensUsed += plan.TokensUsed

	if len(plan.Queries) == 0 {
		out.EmptyPlan = true
		return out
	}

	searchCh := workflow.NewChannel(ctx)
	for i, q := range plan.Queries {
		idx, query := i, q
		workflow.Go(ctx, func(gCtx workflow.Context) {
			var res activities.RunSearchResult
			err := workflow.ExecuteActivity(gCtx, "RunSearch", activities.RunSearchInput{
				TopicID:   topic.ID,
				Iteration: iteration,
				Query:     query.Query,
				Reason:    query.Reason,
			}).Get(gCtx, &res)
			searchCh.Send(gCtx, searchOutcome{
				Index:   idx,
				Query:   query.Query,
				Content: res.Content,
				Tokens:  res.TokensUsed,
				Err:     err,
			})
		})
	}

	// Fan in all searches, then order findings by plan position so the
	// record does not depend on completion order.
	byIndex := make(map[int]searchOutcome, len(plan.Queries))
	for range plan.Queries {
		var so searchOutcome
		searchCh.Receive(ctx, &so)
		byIndex[so.Index] = so
	}
	for i := range plan.Queries {
		so := byIndex[i]
		if so.Err != nil {
			out.Gaps = append(out.Gaps, ledger.SearchGap{
				TopicID:   topic.ID,
				Iteration: iteration,
				Query:     so.Query,
				Reason:    so.Err.Error(),
			})
			continue
		}
		out.TokensUsed += so.Tokens
		out.Results = append(out.Results, ledger.SearchResult{
			TopicID:   topic.ID,
			Iteration: iteration,
			Query:     so.Query,
			Content:   so.Content,
		})
	}
	return out
}
