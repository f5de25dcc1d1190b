package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fathomlabs/fathom/internal/activities"
)

// stubAgents lets each test override individual capability calls while the
// rest use happy-path defaults.
type stubAgents struct {
	propose func(context.Context, activities.ProposeSubTopicsInput) (activities.ProposeSubTopicsResult, error)
	plan    func(context.Context, activities.BuildSearchPlanInput) (activities.BuildSearchPlanResult, error)
	search  func(context.Context, activities.RunSearchInput) (activities.RunSearchResult, error)
	fund    func(context.Context, activities.AnalysisInput) (activities.AnalysisResult, error)
	risk    func(context.Context, activities.AnalysisInput) (activities.AnalysisResult, error)
	write   func(context.Context, activities.WriteReportInput) (activities.WriteReportResult, error)
	verify  func(context.Context, activities.VerifyReportInput) (activities.VerifyReportResult, error)
}

func defaultPropose(_ context.Context, in activities.ProposeSubTopicsInput) (activities.ProposeSubTopicsResult, error) {
	return activities.ProposeSubTopicsResult{Candidates: []activities.TopicCandidate{
		{Name: "revenue growth", Description: "quarterly revenue trajectory", Priority: 1},
		{Name: "margin trends", Description: "gross and operating margins", Priority: 2},
		{Name: "supply chain risk", Description: "supplier concentration and logistics", Priority: 3},
	}}, nil
}

func defaultPlan(_ context.Context, in activities.BuildSearchPlanInput) (activities.BuildSearchPlanResult, error) {
	return activities.BuildSearchPlanResult{Queries: []activities.SearchQuery{
		{Query: fmt.Sprintf("%s latest filings", in.TopicName), Reason: "primary sources"},
		{Query: fmt.Sprintf("%s analyst commentary", in.TopicName), Reason: "third-party view"},
	}}, nil
}

func defaultSearch(_ context.Context, in activities.RunSearchInput) (activities.RunSearchResult, error) {
	return activities.RunSearchResult{Content: "findings for " + in.Query}, nil
}

func defaultAnalysis(_ context.Context, in activities.AnalysisInput) (activities.AnalysisResult, error) {
	return activities.AnalysisResult{
		Kind:      in.Kind,
		TopicName: in.TopicName,
		Summary:   fmt.Sprintf("%s summary for %s", in.Kind, in.TopicName),
	}, nil
}

func defaultWrite(_ context.Context, in activities.WriteReportInput) (activities.WriteReportResult, error) {
	return activities.WriteReportResult{
		Report:            "# Research Report\n\n" + in.Corpus,
		FollowUpQuestions: []string{"What changed since last quarter?"},
	}, nil
}

func defaultVerify(_ context.Context, in activities.VerifyReportInput) (activities.VerifyReportResult, error) {
	return activities.VerifyReportResult{Verified: true}, nil
}

func newResearchEnv(t *testing.T, stubs stubAgents) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	if stubs.propose == nil {
		stubs.propose = defaultPropose
	}
	if stubs.plan == nil {
		stubs.plan = defaultPlan
	}
	if stubs.search == nil {
		stubs.search = defaultSearch
	}
	if stubs.fund == nil {
		stubs.fund = defaultAnalysis
	}
	if stubs.risk == nil {
		stubs.risk = defaultAnalysis
	}
	if stubs.write == nil {
		stubs.write = defaultWrite
	}
	if stubs.verify == nil {
		stubs.verify = defaultVerify
	}

	env.RegisterActivityWithOptions(stubs.propose, activity.RegisterOptions{Name: "ProposeSubTopics"})
	env.RegisterActivityWithOptions(stubs.plan, activity.RegisterOptions{Name: "BuildSearchPlan"})
	env.RegisterActivityWithOptions(stubs.search, activity.RegisterOptions{Name: "RunSearch"})
	env.RegisterActivityWithOptions(stubs.fund, activity.RegisterOptions{Name: "FundamentalsAnalysis"})
	env.RegisterActivityWithOptions(stubs.risk, activity.RegisterOptions{Name: "RiskAnalysis"})
	env.RegisterActivityWithOptions(stubs.write, activity.RegisterOptions{Name: "WriteReport"})
	env.RegisterActivityWithOptions(stubs.verify, activity.RegisterOptions{Name: "VerifyReport"})

	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.PersistIterationInput) error { return nil },
		activity.RegisterOptions{Name: "PersistIteration"},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.PersistReportInput) error { return nil },
		activity.RegisterOptions{Name: "PersistReport"},
	)
	return env
}

// Scenario: full two-iteration run. Every sub-topic ends at max depth or
// exhausted, synthesis produces exactly one verified report.
func TestDeepResearchFullRun(t *testing.T) {
	writeCalls := 0
	verifyCalls := 0
	env := newResearchEnv(t, stubAgents{
		write: func(ctx context.Context, in activities.WriteReportInput) (activities.WriteReportResult, error) {
			writeCalls++
			return defaultWrite(ctx, in)
		},
		verify: func(ctx context.Context, in activities.VerifyReportInput) (activities.VerifyReportResult, error) {
			verifyCalls++
			return defaultVerify(ctx, in)
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    2,
		MaxDepthPerTopic: 2,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 2, result.Iterations)
	assert.NotEmpty(t, result.Report)
	assert.True(t, result.Verified)
	assert.Equal(t, 1, writeCalls)
	assert.Equal(t, 1, verifyCalls)

	require.Len(t, result.Topics, 3)
	ids := map[string]bool{}
	for _, topic := range result.Topics {
		assert.False(t, ids[topic.ID], "duplicate topic ID %s", topic.ID)
		ids[topic.ID] = true
		assert.LessOrEqual(t, topic.Depth, 2)
		if topic.Depth < 2 {
			assert.Equal(t, "exhausted", topic.Status)
		}
	}

	// 3 topics x 2 queries x 2 iterations, no gaps.
	assert.Equal(t, 12, result.SearchResults)
	assert.Equal(t, 0, result.SearchGaps)
}

// Scenario: exploration fails on the very first iteration. The run fails
// with ExplorationFailed and no exploitation or synthesis call is made.
func TestExplorationFailedFirstIteration(t *testing.T) {
	planCalls := 0
	writeCalls := 0
	env := newResearchEnv(t, stubAgents{
		propose: func(ctx context.Context, in activities.ProposeSubTopicsInput) (activities.ProposeSubTopicsResult, error) {
			return activities.ProposeSubTopicsResult{}, errors.New("agent service unavailable")
		},
		plan: func(ctx context.Context, in activities.BuildSearchPlanInput) (activities.BuildSearchPlanResult, error) {
			planCalls++
			return defaultPlan(ctx, in)
		},
		write: func(ctx context.Context, in activities.WriteReportInput) (activities.WriteReportResult, error) {
			writeCalls++
			return defaultWrite(ctx, in)
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{Query: "Apple Inc. most recent quarter"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeExplorationFailed, appErr.Type())

	assert.Equal(t, 0, planCalls)
	assert.Equal(t, 0, writeCalls)
}

// Scenario: every sub-topic exhausts after iteration 1 of a 2-iteration
// budget. The loop breaks before iteration 2's exploration call and
// synthesis still runs once.
func TestEarlyBreakWhenAllTopicsExhausted(t *testing.T) {
	proposeCalls := 0
	writeCalls := 0
	env := newResearchEnv(t, stubAgents{
		propose: func(ctx context.Context, in activities.ProposeSubTopicsInput) (activities.ProposeSubTopicsResult, error) {
			proposeCalls++
			return defaultPropose(ctx, in)
		},
		write: func(ctx context.Context, in activities.WriteReportInput) (activities.WriteReportResult, error) {
			writeCalls++
			return defaultWrite(ctx, in)
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    2,
		MaxDepthPerTopic: 1, // exhausts everything in one round
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 1, proposeCalls, "iteration 2 must break before its exploration call")
	assert.Equal(t, 1, writeCalls)
	assert.Equal(t, 1, result.Iterations)
	for _, topic := range result.Topics {
		assert.Equal(t, "exhausted", topic.Status)
	}
}

// Scenario: 1 of 4 parallel searches fails. Depth still advances and the
// other 3 results are recorded alongside one gap.
func TestPartialSearchFailure(t *testing.T) {
	env := newResearchEnv(t, stubAgents{
		propose: func(ctx context.Context, in activities.ProposeSubTopicsInput) (activities.ProposeSubTopicsResult, error) {
			return activities.ProposeSubTopicsResult{Candidates: []activities.TopicCandidate{
				{Name: "revenue growth", Description: "quarterly revenue trajectory"},
			}}, nil
		},
		plan: func(ctx context.Context, in activities.BuildSearchPlanInput) (activities.BuildSearchPlanResult, error) {
			return activities.BuildSearchPlanResult{Queries: []activities.SearchQuery{
				{Query: "q1"}, {Query: "q2"}, {Query: "q3"}, {Query: "q4"},
			}}, nil
		},
		search: func(ctx context.Context, in activities.RunSearchInput) (activities.RunSearchResult, error) {
			if in.Query == "q3" {
				return activities.RunSearchResult{}, errors.New("search backend timeout")
			}
			return defaultSearch(ctx, in)
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    1,
		MaxDepthPerTopic: 2,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 3, result.SearchResults)
	assert.Equal(t, 1, result.SearchGaps)
	require.Len(t, result.Topics, 1)
	assert.Equal(t, 1, result.Topics[0].Depth, "partial failure must still advance depth")
}

// Repeated explorations returning overlapping descriptions must never
// reintroduce a sub-topic under a new identifier.
func TestOverlappingCandidatesKeepUniqueIDs(t *testing.T) {
	env := newResearchEnv(t, stubAgents{
		propose: func(ctx context.Context, in activities.ProposeSubTopicsInput) (activities.ProposeSubTopicsResult, error) {
			// Identical candidate set every iteration, with cosmetic
			// differences in the descriptions.
			return activities.ProposeSubTopicsResult{Candidates: []activities.TopicCandidate{
				{Name: "revenue growth", Description: "Quarterly REVENUE trajectory."},
				{Name: "margin trends", Description: "gross and operating margins"},
			}}, nil
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    3,
		MaxDepthPerTopic: 5, // keep topics active across all iterations
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	require.Len(t, result.Topics, 2)
	assert.NotEqual(t, result.Topics[0].ID, result.Topics[1].ID)
	assert.Equal(t, 3, result.Iterations)
}

// A plan-build failure sidelines the topic for that iteration only; the
// next iteration retries it.
func TestPlanBuildFailureSkipsTopicForIteration(t *testing.T) {
	env := newResearchEnv(t, stubAgents{
		propose: func(ctx context.Context, in activities.ProposeSubTopicsInput) (activities.ProposeSubTopicsResult, error) {
			return activities.ProposeSubTopicsResult{Candidates: []activities.TopicCandidate{
				{Name: "revenue growth", Description: "quarterly revenue trajectory"},
				{Name: "margin trends", Description: "gross and operating margins"},
			}}, nil
		},
		plan: func(ctx context.Context, in activities.BuildSearchPlanInput) (activities.BuildSearchPlanResult, error) {
			if in.TopicID == "st-2" && in.Iteration == 1 {
				return activities.BuildSearchPlanResult{}, errors.New("planner overloaded")
			}
			return defaultPlan(ctx, in)
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    2,
		MaxDepthPerTopic: 3,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	depths := map[string]int{}
	for _, topic := range result.Topics {
		depths[topic.ID] = topic.Depth
	}
	assert.Equal(t, 2, depths["st-1"])
	assert.Equal(t, 1, depths["st-2"], "skipped topic advances only in the retry iteration")
	assert.GreaterOrEqual(t, result.SearchGaps, 1)
}

// An exploration failure after the first iteration skips that iteration
// instead of aborting the run.
func TestExplorationFailureLaterIterationIsSkipped(t *testing.T) {
	env := newResearchEnv(t, stubAgents{
		propose: func(ctx context.Context, in activities.ProposeSubTopicsInput) (activities.ProposeSubTopicsResult, error) {
			if in.Iteration == 2 {
				return activities.ProposeSubTopicsResult{}, errors.New("transient outage")
			}
			return activities.ProposeSubTopicsResult{Candidates: []activities.TopicCandidate{
				{Name: "revenue growth", Description: "quarterly revenue trajectory"},
			}}, nil
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    3,
		MaxDepthPerTopic: 5,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	// Iterations 1 and 3 exploited; iteration 2 was skipped.
	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.Topics, 1)
	assert.Equal(t, 2, result.Topics[0].Depth)
}

// The writer may request specialist analyses as tools; the workflow runs
// them and re-invokes the writer with the results attached.
func TestWriterAnalysisToolLoop(t *testing.T) {
	writeCalls := 0
	fundCalls := 0
	riskCalls := 0
	env := newResearchEnv(t, stubAgents{
		write: func(ctx context.Context, in activities.WriteReportInput) (activities.WriteReportResult, error) {
			writeCalls++
			if writeCalls == 1 {
				return activities.WriteReportResult{AnalysisRequests: []activities.AnalysisRequest{
					{Kind: activities.AnalysisFundamentals, TopicName: "revenue growth"},
					{Kind: activities.AnalysisRisk, TopicName: "supply chain risk"},
				}}, nil
			}
			require.Len(t, in.Analyses, 2, "second writer round must see both analyses")
			return activities.WriteReportResult{Report: "final report with analyses"}, nil
		},
		fund: func(ctx context.Context, in activities.AnalysisInput) (activities.AnalysisResult, error) {
			fundCalls++
			return defaultAnalysis(ctx, in)
		},
		risk: func(ctx context.Context, in activities.AnalysisInput) (activities.AnalysisResult, error) {
			riskCalls++
			return defaultAnalysis(ctx, in)
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    1,
		MaxDepthPerTopic: 1,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, "final report with analyses", result.Report)
	assert.Equal(t, 2, writeCalls)
	assert.Equal(t, 1, fundCalls)
	assert.Equal(t, 1, riskCalls)
}

// A verifier failure is fatal and surfaces as SynthesisFailed.
func TestSynthesisFailedOnVerifierError(t *testing.T) {
	env := newResearchEnv(t, stubAgents{
		verify: func(ctx context.Context, in activities.VerifyReportInput) (activities.VerifyReportResult, error) {
			return activities.VerifyReportResult{}, errors.New("verifier exhausted retries")
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    1,
		MaxDepthPerTopic: 1,
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeSynthesisFailed, appErr.Type())
}

// A flagged verdict does not block delivery of the report.
func TestFlaggedVerdictStillDeliversReport(t *testing.T) {
	env := newResearchEnv(t, stubAgents{
		verify: func(ctx context.Context, in activities.VerifyReportInput) (activities.VerifyReportResult, error) {
			return activities.VerifyReportResult{
				Verified: false,
				Issues:   []string{"revenue figure unsupported by findings"},
			}, nil
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    1,
		MaxDepthPerTopic: 1,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.NotEmpty(t, result.Report)
	assert.False(t, result.Verified)
	assert.Contains(t, result.Issues[0], "unsupported")
}

// Empty queries are rejected before any capability call.
func TestEmptyQueryRejected(t *testing.T) {
	env := newResearchEnv(t, stubAgents{})
	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{Query: "   "})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeInvalidInput, appErr.Type())
}

// The report corpus groups all findings for one sub-topic together even
// when they span iterations.
func TestCorpusGroupingInReport(t *testing.T) {
	env := newResearchEnv(t, stubAgents{
		plan: func(ctx context.Context, in activities.BuildSearchPlanInput) (activities.BuildSearchPlanResult, error) {
			return activities.BuildSearchPlanResult{Queries: []activities.SearchQuery{
				{Query: fmt.Sprintf("%s iter-%d", in.TopicName, in.Iteration)},
			}}, nil
		},
	})

	env.ExecuteWorkflow(DeepResearchWorkflow, ResearchInput{
		Query:            "Apple Inc. most recent quarter",
		MaxIterations:    2,
		MaxDepthPerTopic: 2,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	// Both iterations of the first topic appear before the second topic's
	// heading (defaultWrite embeds the corpus in the report).
	first := strings.Index(result.Report, "revenue growth iter-2")
	second := strings.Index(result.Report, "## margin trends")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
}
