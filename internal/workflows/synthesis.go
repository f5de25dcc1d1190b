package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/fathomlabs/fathom/internal/activities"
	"github.com/fathomlabs/fathom/internal/ledger"
)

// analysisOutcome is the fan-in payload for one specialist analysis call.
type analysisOutcome struct {
	Result activities.AnalysisResult
	Err    error
}

// runSynthesis merges the full ledger into one corpus and runs the writer,
// satisfying its specialist-analysis tool requests between rounds, then
// verifies the draft once. Runs exactly once per workflow, after the
// iteration loop. Writer and verifier failures are fatal to the run; a
// failed specialist analysis is not — the writer proceeds without it.
func runSynthesis(ctx workflow.Context, input ResearchInput, led *ledger.Ledger) (activities.WriteReportResult, activities.VerifyReportResult, int, error) {
	logger := workflow.GetLogger(ctx)
	corpus := led.Corpus()
	tokens := 0

	var analyses []activities.AnalysisResult
	var draft activities.WriteReportResult
	for round := 1; ; round++ {
		var res activities.WriteReportResult
		err := workflow.ExecuteActivity(ctx, "WriteReport", activities.WriteReportInput{
			Query:    input.Query,
			Corpus:   corpus,
			Analyses: analyses,
		}).Get(ctx, &res)
		if err != nil {
			return activities.WriteReportResult{}, activities.VerifyReportResult{}, tokens, err
		}
		tokens += res.TokensUsed

		if len(res.AnalysisRequests) == 0 || round >= input.MaxWriterRounds {
			draft = res
			break
		}

		logger.Info("Writer requested specialist analyses",
			"round", round,
			"requests", len(res.AnalysisRequests),
		)
		produced := runAnalyses(ctx, res.AnalysisRequests, corpus)
		for _, a := range produced {
			tokens += a.TokensUsed
		}
		analyses = append(analyses, produced...)
	}

	var verdict activities.VerifyReportResult
	err := workflow.ExecuteActivity(ctx, "VerifyReport", activities.VerifyReportInput{
		Report: draft.Report,
		Corpus: corpus,
	}).Get(ctx, &verdict)
	if err != nil {
		return activities.WriteReportResult{}, activities.VerifyReportResult{}, tokens, err
	}
	tokens += verdict.TokensUsed

	// The verdict is advisory: flagged issues ride along on the result and
	// never loop back into more exploration.
	return draft, verdict, tokens, nil
}

// runAnalyses fans out the writer's tool requests as parallel specialist
// activity calls and fans in whatever succeeded.
func runAnalyses(ctx workflow.Context, requests []activities.AnalysisRequest, corpus string) []activities.AnalysisResult {
	logger := workflow.GetLogger(ctx)

	ch := workflow.NewChannel(ctx)
	for _, r := range requests {
		req := r
		workflow.Go(ctx, func(gCtx workflow.Context) {
			name := "FundamentalsAnalysis"
			if req.Kind == activities.AnalysisRisk {
				name = "RiskAnalysis"
			}
			var res activities.AnalysisResult
			err := workflow.ExecuteActivity(gCtx, name, activities.AnalysisInput{
				Kind:      req.Kind,
				TopicName: req.TopicName,
				Corpus:    corpus,
			}).Get(gCtx, &res)
			ch.Send(gCtx, analysisOutcome{Result: res, Err: err})
		})
	}

	var results []activities.AnalysisResult
	for range requests {
		var o analysisOutcome
		ch.Receive(ctx, &o)
		if o.Err != nil {
			logger.Warn("Specialist analysis failed, writer proceeds without it", "error", o.Err)
			continue
		}
		results = append(results, o.Result)
	}
	return results
}
