package workflows

import (
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fathomlabs/fathom/internal/activities"
	"github.com/fathomlabs/fathom/internal/ledger"
)

// DeepResearchWorkflow drives one explore-exploit research run:
//
//  1. Explore: propose candidate sub-topics, merged into the ledger.
//  2. Exploit: fan out parallel searches per active sub-topic, advancing
//     each topic's depth counter, one iteration record per cycle.
//  3. Repeat until the iteration budget is spent or every sub-topic is
//     exhausted.
//  4. Synthesize: write the report over the full corpus, then verify it.
//
// The ledger is mutated only from the main workflow lane; stage goroutines
// communicate results back over channels and never touch shared state.
func DeepResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)

	if strings.TrimSpace(input.Query) == "" {
		return ResearchResult{}, temporal.NewApplicationError("query must not be empty", ErrTypeInvalidInput)
	}
	input.applyDefaults()

	logger.Info("Starting deep research run",
		"query", input.Query,
		"max_iterations", input.MaxIterations,
		"max_depth_per_topic", input.MaxDepthPerTopic,
	)

	// Capability-call budget: 10m to complete, 2m to start after
	// scheduling, liveness signal at least every 5m. Transient retries
	// belong to Temporal, so every activity stays idempotent.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    10 * time.Minute,
		ScheduleToStartTimeout: 2 * time.Minute,
		HeartbeatTimeout:       5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})

	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	led := ledger.New()
	totalTokens := 0

	for iteration := 1; iteration <= input.MaxIterations; iteration++ {
		// Budget conservation: once every sub-topic is exhausted there is
		// nothing left to exploit, so later iterations are not spent on
		// another exploration call either.
		if iteration > 1 && len(led.ActiveTopics()) == 0 {
			logger.Info("All sub-topics exhausted, ending iteration loop early",
				"iteration", iteration,
			)
			break
		}

		exploreTokens, err := runExplore(ctx, input, led, iteration)
		totalTokens += exploreTokens
		if err != nil {
			if iteration == 1 {
				logger.Error("Exploration failed on first iteration", "error", err)
				return ResearchResult{}, temporal.NewApplicationErrorWithCause(
					"no sub-topics could be established", ErrTypeExplorationFailed, err, led.Stats())
			}
			// Later iterations degrade to a skipped cycle; still-active
			// topics get another chance next iteration.
			logger.Warn("Exploration failed, skipping iteration",
				"iteration", iteration,
				"error", err,
			)
			continue
		}

		if len(led.ActiveTopics()) == 0 {
			logger.Info("No active sub-topics to exploit, ending iteration loop early",
				"iteration", iteration,
			)
			break
		}

		started := workflow.Now(ctx)
		record, exploitTokens := runExploit(ctx, input, led, iteration)
		record.Elapsed = workflow.Now(ctx).Sub(started)
		totalTokens += exploitTokens
		led.Append(record)

		logger.Info("Iteration complete",
			"iteration", iteration,
			"results", len(record.Results),
			"gaps", len(record.Gaps),
			"active_topics", len(led.ActiveTopics()),
		)

		persistIteration(ctx, workflowID, record)
	}

	report, verdict, synthTokens, err := runSynthesis(ctx, input, led)
	totalTokens += synthTokens
	if err != nil {
		logger.Error("Synthesis failed", "error", err)
		return ResearchResult{}, temporal.NewApplicationErrorWithCause(
			"report synthesis failed", ErrTypeSynthesisFailed, err, led.Stats())
	}

	result := ResearchResult{
		Report:            report.Report,
		FollowUpQuestions: report.FollowUpQuestions,
		Verified:          verdict.Verified,
		Issues:            verdict.Issues,
		Iterations:        led.Iterations(),
		SearchResults:     led.ResultCount(),
		SearchGaps:        led.GapCount(),
		TokensUsed:        totalTokens,
	}
	for _, t := range led.Topics {
		result.Topics = append(result.Topics, TopicSummary{
			ID:     t.ID,
			Name:   t.Name,
			Depth:  t.Depth,
			Status: string(t.Status),
		})
	}

	persistReport(ctx, workflowID, input, result)

	logger.Info("Deep research run complete",
		"iterations", result.Iterations,
		"search_results", result.SearchResults,
		"search_gaps", result.SearchGaps,
		"verified", result.Verified,
		"tokens_used", result.TokensUsed,
	)
	return result, nil
}

// persistIteration saves a per-iteration summary row. Best-effort: storage
// being down must not fail the run.
func persistIteration(ctx workflow.Context, workflowID string, rec ledger.IterationRecord) {
	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	_ = workflow.ExecuteActivity(persistCtx, "PersistIteration", activities.PersistIterationInput{
		WorkflowID:    workflowID,
		Iteration:     rec.Iteration,
		TopicsTouched: len(rec.TopicIDs),
		SearchResults: len(rec.Results),
		SearchGaps:    len(rec.Gaps),
		ElapsedMs:     rec.Elapsed.Milliseconds(),
	}).Get(persistCtx, nil)
}

// persistReport saves the terminal artifact. Best-effort as above.
func persistReport(ctx workflow.Context, workflowID string, input ResearchInput, res ResearchResult) {
	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	_ = workflow.ExecuteActivity(persistCtx, "PersistReport", activities.PersistReportInput{
		WorkflowID:        workflowID,
		Query:             input.Query,
		Report:            res.Report,
		FollowUpQuestions: res.FollowUpQuestions,
		Verified:          res.Verified,
		Issues:            res.Issues,
		Iterations:        res.Iterations,
		SearchResults:     res.SearchResults,
		SearchGaps:        res.SearchGaps,
	}).Get(persistCtx, nil)
}
