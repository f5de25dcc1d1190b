package activities

// ProposeSubTopicsInput asks the exploration agent for candidate sub-topics.
type ProposeSubTopicsInput struct {
	Query         string `json:"query"`
	Iteration     int    `json:"iteration"`
	LedgerSummary string `json:"ledger_summary"`
	MaxTopics     int    `json:"max_topics"`
}

// TopicCandidate is one proposed sub-topic, in the agent's own priority order.
type TopicCandidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// ProposeSubTopicsResult carries the exploration agent's candidate set.
type ProposeSubTopicsResult struct {
	Candidates []TopicCandidate `json:"candidates"`
	TokensUsed int              `json:"tokens_used"`
}

// BuildSearchPlanInput asks the exploitation agent for a search plan scoped
// to one sub-topic at one iteration.
type BuildSearchPlanInput struct {
	Query            string `json:"query"`
	TopicID          string `json:"topic_id"`
	TopicName        string `json:"topic_name"`
	TopicDescription string `json:"topic_description"`
	Depth            int    `json:"depth"`
	Iteration        int    `json:"iteration"`
	LedgerSummary    string `json:"ledger_summary"`
}

// SearchQuery is one planned search with the agent's reasoning attached.
type SearchQuery struct {
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// BuildSearchPlanResult is the ordered search plan for one sub-topic. An
// empty Queries slice signals the agent has nothing further to investigate.
type BuildSearchPlanResult struct {
	Queries    []SearchQuery `json:"queries"`
	TokensUsed int           `json:"tokens_used"`
}

// RunSearchInput executes one search query for one sub-topic.
type RunSearchInput struct {
	TopicID   string `json:"topic_id"`
	Iteration int    `json:"iteration"`
	Query     string `json:"query"`
	Reason    string `json:"reason"`
}

// RunSearchResult is the raw findings text for one search query.
type RunSearchResult struct {
	Content    string `json:"content"`
	Cached     bool   `json:"cached"`
	TokensUsed int    `json:"tokens_used"`
}

// AnalysisKind selects a specialist capability.
type AnalysisKind string

const (
	AnalysisFundamentals AnalysisKind = "fundamentals"
	AnalysisRisk         AnalysisKind = "risk"
)

// AnalysisInput requests a specialist write-up for one sub-topic.
type AnalysisInput struct {
	Kind      AnalysisKind `json:"kind"`
	TopicName string       `json:"topic_name"`
	Corpus    string       `json:"corpus"`
}

// AnalysisResult is the specialist's summary, keyed back to its request.
type AnalysisResult struct {
	Kind       AnalysisKind `json:"kind"`
	TopicName  string       `json:"topic_name"`
	Summary    string       `json:"summary"`
	TokensUsed int          `json:"tokens_used"`
}

// WriteReportInput invokes the writer with the full research corpus plus any
// specialist analyses produced in earlier tool rounds.
type WriteReportInput struct {
	Query    string           `json:"query"`
	Corpus   string           `json:"corpus"`
	Analyses []AnalysisResult `json:"analyses,omitempty"`
}

// AnalysisRequest is a writer tool call: the writer asks for a specialist
// analysis of a named sub-topic before it can finish the report.
type AnalysisRequest struct {
	Kind      AnalysisKind `json:"kind"`
	TopicName string       `json:"topic_name"`
}

// WriteReportResult carries either a finished report or a set of analysis
// requests the caller must satisfy before re-invoking the writer.
type WriteReportResult struct {
	Report            string            `json:"report"`
	FollowUpQuestions []string          `json:"follow_up_questions,omitempty"`
	AnalysisRequests  []AnalysisRequest `json:"analysis_requests,omitempty"`
	TokensUsed        int               `json:"tokens_used"`
}

// VerifyReportInput submits a draft report and its corpus for verification.
type VerifyReportInput struct {
	Report string `json:"report"`
	Corpus string `json:"corpus"`
}

// VerifyReportResult is the verifier's advisory verdict. Issues may be
// non-empty even when Verified is true.
type VerifyReportResult struct {
	Verified   bool     `json:"verified"`
	Issues     []string `json:"issues,omitempty"`
	TokensUsed int      `json:"tokens_used"`
}

// PersistReportInput saves a completed run's terminal artifact.
type PersistReportInput struct {
	WorkflowID        string   `json:"workflow_id"`
	Query             string   `json:"query"`
	Report            string   `json:"report"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
	Verified          bool     `json:"verified"`
	Issues            []string `json:"issues,omitempty"`
	Iterations        int      `json:"iterations"`
	SearchResults     int      `json:"search_results"`
	SearchGaps        int      `json:"search_gaps"`
}

// PersistIterationInput saves a per-iteration summary row.
type PersistIterationInput struct {
	WorkflowID    string `json:"workflow_id"`
	Iteration     int    `json:"iteration"`
	TopicsTouched int    `json:"topics_touched"`
	SearchResults int    `json:"search_results"`
	SearchGaps    int    `json:"search_gaps"`
	ElapsedMs     int64  `json:"elapsed_ms"`
}
