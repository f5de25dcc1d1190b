package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathomlabs/fathom/internal/metrics"
)

// Agents exposes every capability of the agent invocation service as a
// Temporal activity. All activities are idempotent: their only external
// effect is producing a result, so at-least-once retries are safe.
type Agents struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	cache   *SearchCache
	logger  *zap.Logger
}

// AgentsConfig configures the agent service client.
type AgentsConfig struct {
	BaseURL string
	Timeout time.Duration
	// RatePerSecond limits outbound calls to the agent service; zero
	// disables throttling.
	RatePerSecond float64
	RateBurst     int
}

// NewAgents creates the capability-call activity set. cache may be nil, in
// which case search results are not memoized across retries.
func NewAgents(cfg AgentsConfig, cache *SearchCache, logger *zap.Logger) *Agents {
	base := cfg.BaseURL
	if base == "" {
		base = os.Getenv("AGENT_SERVICE_URL")
	}
	if base == "" {
		base = "http://agent-service:8000"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 9 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Agents{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		cache:   cache,
		logger:  logger,
	}
}

// ProposeSubTopics asks the exploration agent for candidate sub-topics given
// the original query and a digest of research so far.
func (a *Agents) ProposeSubTopics(ctx context.Context, in ProposeSubTopicsInput) (ProposeSubTopicsResult, error) {
	var out ProposeSubTopicsResult
	if err := a.post(ctx, "/agent/subtopics", in, &out); err != nil {
		metrics.CapabilityCalls.WithLabelValues("propose_subtopics", "error").Inc()
		return ProposeSubTopicsResult{}, fmt.Errorf("propose sub-topics: %w", err)
	}
	metrics.CapabilityCalls.WithLabelValues("propose_subtopics", "ok").Inc()
	metrics.SubTopicsProposed.Add(float64(len(out.Candidates)))
	return out, nil
}

// BuildSearchPlan asks the exploitation agent for a search plan scoped to
// one sub-topic.
func (a *Agents) BuildSearchPlan(ctx context.Context, in BuildSearchPlanInput) (BuildSearchPlanResult, error) {
	var out BuildSearchPlanResult
	if err := a.post(ctx, "/agent/search-plan", in, &out); err != nil {
		metrics.CapabilityCalls.WithLabelValues("build_search_plan", "error").Inc()
		return BuildSearchPlanResult{}, fmt.Errorf("build search plan for %s: %w", in.TopicID, err)
	}
	metrics.CapabilityCalls.WithLabelValues("build_search_plan", "ok").Inc()
	return out, nil
}

// RunSearch executes one search query. Results are memoized in Redis keyed
// by (topic, query, iteration) so a re-executed activity returns the same
// findings without re-paying the search.
func (a *Agents) RunSearch(ctx context.Context, in RunSearchInput) (RunSearchResult, error) {
	if a.cache != nil {
		if content, ok := a.cache.Get(ctx, in); ok {
			a.logger.Debug("Search served from cache",
				zap.String("topic_id", in.TopicID),
				zap.String("query", in.Query),
			)
			metrics.SearchCacheHits.Inc()
			return RunSearchResult{Content: content, Cached: true}, nil
		}
	}

	var out RunSearchResult
	if err := a.post(ctx, "/agent/search", in, &out); err != nil {
		metrics.CapabilityCalls.WithLabelValues("run_search", "error").Inc()
		metrics.SearchGaps.Inc()
		return RunSearchResult{}, fmt.Errorf("search %q: %w", in.Query, err)
	}
	metrics.CapabilityCalls.WithLabelValues("run_search", "ok").Inc()

	if a.cache != nil && out.Content != "" {
		if err := a.cache.Put(ctx, in, out.Content); err != nil {
			a.logger.Warn("Failed to cache search result", zap.Error(err))
		}
	}
	return out, nil
}

// FundamentalsAnalysis produces a specialist fundamentals write-up for one
// sub-topic.
func (a *Agents) FundamentalsAnalysis(ctx context.Context, in AnalysisInput) (AnalysisResult, error) {
	in.Kind = AnalysisFundamentals
	return a.analysis(ctx, "/agent/analysis/fundamentals", in)
}

// RiskAnalysis produces a specialist risk write-up for one sub-topic.
func (a *Agents) RiskAnalysis(ctx context.Context, in AnalysisInput) (AnalysisResult, error) {
	in.Kind = AnalysisRisk
	return a.analysis(ctx, "/agent/analysis/risk", in)
}

func (a *Agents) analysis(ctx context.Context, path string, in AnalysisInput) (AnalysisResult, error) {
	var out AnalysisResult
	if err := a.post(ctx, path, in, &out); err != nil {
		metrics.CapabilityCalls.WithLabelValues(string(in.Kind)+"_analysis", "error").Inc()
		return AnalysisResult{}, fmt.Errorf("%s analysis for %q: %w", in.Kind, in.TopicName, err)
	}
	metrics.CapabilityCalls.WithLabelValues(string(in.Kind)+"_analysis", "ok").Inc()
	out.Kind = in.Kind
	out.TopicName = in.TopicName
	return out, nil
}

// WriteReport invokes the writer. The result either carries the finished
// report or a set of analysis requests the workflow must satisfy first.
func (a *Agents) WriteReport(ctx context.Context, in WriteReportInput) (WriteReportResult, error) {
	var out WriteReportResult
	if err := a.post(ctx, "/agent/report", in, &out); err != nil {
		metrics.CapabilityCalls.WithLabelValues("write_report", "error").Inc()
		return WriteReportResult{}, fmt.Errorf("write report: %w", err)
	}
	metrics.CapabilityCalls.WithLabelValues("write_report", "ok").Inc()
	return out, nil
}

// VerifyReport submits a draft report for verification.
func (a *Agents) VerifyReport(ctx context.Context, in VerifyReportInput) (VerifyReportResult, error) {
	var out VerifyReportResult
	if err := a.post(ctx, "/agent/verify", in, &out); err != nil {
		metrics.CapabilityCalls.WithLabelValues("verify_report", "error").Inc()
		return VerifyReportResult{}, fmt.Errorf("verify report: %w", err)
	}
	metrics.CapabilityCalls.WithLabelValues("verify_report", "ok").Inc()
	return out, nil
}

// post issues one JSON request to the agent service, heartbeating while the
// call is in flight so long searches and report writes stay live.
func (a *Agents) post(ctx context.Context, path string, in, out interface{}) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	stopHeartbeat := heartbeatWhileRunning(ctx)
	resp, err := a.client.Do(req)
	stopHeartbeat()
	if err != nil {
		return fmt.Errorf("call agent service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent service returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// heartbeatWhileRunning records activity heartbeats every 30s until the
// returned stop function is called. No-op outside an activity context so
// unit tests can call the methods directly.
func heartbeatWhileRunning(ctx context.Context) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
