package workflows

// TaskQueue is the Temporal task queue the research worker listens on.
const TaskQueue = "fathom-research"

// Error types surfaced to callers when a run fails fatally. Both carry a
// ledger snapshot as details so partial progress is inspectable.
const (
	ErrTypeExplorationFailed = "ExplorationFailed"
	ErrTypeSynthesisFailed   = "SynthesisFailed"
	ErrTypeInvalidInput      = "InvalidInput"
)

// ResearchInput starts a deep research run. Zero-valued budgets fall back
// to the defaults below.
type ResearchInput struct {
	Query              string `json:"query"`
	MaxIterations      int    `json:"max_iterations"`
	MaxDepthPerTopic   int    `json:"max_depth_per_topic"`
	MaxActiveSubTopics int    `json:"max_active_subtopics"`
	MaxWriterRounds    int    `json:"max_writer_rounds"`
}

func (in *ResearchInput) applyDefaults() {
	if in.MaxIterations <= 0 {
		in.MaxIterations = 2
	}
	if in.MaxDepthPerTopic <= 0 {
		in.MaxDepthPerTopic = 2
	}
	if in.MaxActiveSubTopics <= 0 {
		in.MaxActiveSubTopics = 4
	}
	if in.MaxWriterRounds <= 0 {
		in.MaxWriterRounds = 3
	}
}

// TopicSummary reports a sub-topic's final state.
type TopicSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Depth  int    `json:"depth"`
	Status string `json:"status"`
}

// ResearchResult is the terminal artifact of a successful run: the report,
// the verifier's advisory verdict, and run accounting.
type ResearchResult struct {
	Report            string         `json:"report"`
	FollowUpQuestions []string       `json:"follow_up_questions,omitempty"`
	Verified          bool           `json:"verified"`
	Issues            []string       `json:"issues,omitempty"`
	Iterations        int            `json:"iterations"`
	Topics            []TopicSummary `json:"topics"`
	SearchResults     int            `json:"search_results"`
	SearchGaps        int            `json:"search_gaps"`
	TokensUsed        int            `json:"tokens_used"`
}
