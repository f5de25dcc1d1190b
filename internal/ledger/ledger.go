// Package ledger holds the shared research state threaded through every
// stage of a deep research run: the live sub-topic set and the append-only
// sequence of per-iteration records. All operations are deterministic so the
// ledger is safe to keep inside Temporal workflow state.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// TopicStatus is the lifecycle state of a sub-topic.
type TopicStatus string

const (
	TopicProposed  TopicStatus = "proposed"
	TopicActive    TopicStatus = "active"
	TopicExhausted TopicStatus = "exhausted"
)

// SubTopic is one bounded research theme derived from the original query.
// Depth is incremented only by the exploitation stage.
type SubTopic struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Priority    int         `json:"priority"`
	Depth       int         `json:"depth"`
	Status      TopicStatus `json:"status"`
}

// Candidate is a sub-topic proposal returned by the exploration capability,
// before deduplication and ID assignment.
type Candidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// SearchResult is one piece of raw findings text. Immutable once recorded.
type SearchResult struct {
	TopicID   string `json:"topic_id"`
	Iteration int    `json:"iteration"`
	Query     string `json:"query"`
	Content   string `json:"content"`
}

// SearchGap records a search query that failed within an otherwise
// successful exploitation round.
type SearchGap struct {
	TopicID   string `json:"topic_id"`
	Iteration int    `json:"iteration"`
	Query     string `json:"query"`
	Reason    string `json:"reason"`
}

// IterationRecord is the snapshot of one completed explore-exploit cycle.
// Records are append-only and never mutated after Append.
type IterationRecord struct {
	Iteration int            `json:"iteration"`
	TopicIDs  []string       `json:"topic_ids"`
	Results   []SearchResult `json:"results"`
	Gaps      []SearchGap    `json:"gaps"`
	Elapsed   time.Duration  `json:"elapsed"`
}

// Ledger is the ordered sequence of iteration records plus the live
// sub-topic set. The zero value is not usable; call New.
type Ledger struct {
	Topics  []SubTopic        `json:"topics"`
	Records []IterationRecord `json:"records"`

	nextID int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{nextID: 1}
}

// Merge reconciles candidate sub-topics against the existing set. Existing
// topics are kept (never shrunk, never re-identified); new candidates fill
// the remaining active slots up to maxActive, in the candidates' own order.
// Duplicates are detected by normalized description or name equality.
// Returns the IDs of topics actually added.
func (l *Ledger) Merge(candidates []Candidate, maxActive int) []string {
	seen := make(map[string]bool, len(l.Topics)*2)
	for _, t := range l.Topics {
		seen[normalize(t.Description)] = true
		seen[normalize(t.Name)] = true
	}

	var added []string
	for _, c := range candidates {
		if l.activeCount() >= maxActive {
			break
		}
		key := normalize(c.Description)
		if key == "" {
			key = normalize(c.Name)
		}
		if key == "" || seen[key] || seen[normalize(c.Name)] {
			continue
		}
		topic := SubTopic{
			ID:          fmt.Sprintf("st-%d", l.nextID),
			Name:        c.Name,
			Description: c.Description,
			Priority:    c.Priority,
			Status:      TopicActive,
		}
		l.nextID++
		l.Topics = append(l.Topics, topic)
		seen[key] = true
		seen[normalize(c.Name)] = true
		added = append(added, topic.ID)
	}
	return added
}

// Topic returns a pointer to the live sub-topic with the given ID, or nil.
func (l *Ledger) Topic(id string) *SubTopic {
	for i := range l.Topics {
		if l.Topics[i].ID == id {
			return &l.Topics[i]
		}
	}
	return nil
}

// ActiveTopics returns the sub-topics still eligible for exploitation.
func (l *Ledger) ActiveTopics() []SubTopic {
	var active []SubTopic
	for _, t := range l.Topics {
		if t.Status == TopicActive {
			active = append(active, t)
		}
	}
	return active
}

func (l *Ledger) activeCount() int {
	n := 0
	for _, t := range l.Topics {
		if t.Status == TopicActive {
			n++
		}
	}
	return n
}

// AdvanceDepth increments a topic's depth counter by one, clamped at
// maxDepth. Reaching maxDepth exhausts the topic.
func (l *Ledger) AdvanceDepth(id string, maxDepth int) {
	t := l.Topic(id)
	if t == nil {
		return
	}
	if t.Depth < maxDepth {
		t.Depth++
	}
	if t.Depth >= maxDepth {
		t.Status = TopicExhausted
	}
}

// MarkExhausted retires a topic from further exploitation.
func (l *Ledger) MarkExhausted(id string) {
	if t := l.Topic(id); t != nil {
		t.Status = TopicExhausted
	}
}

// Append adds a completed iteration record. The ledger is monotonically
// growing; callers must not retain and mutate the record afterwards.
func (l *Ledger) Append(rec IterationRecord) {
	l.Records = append(l.Records, rec)
}

// Iterations returns the number of completed exploitation iterations.
func (l *Ledger) Iterations() int {
	return len(l.Records)
}

// ResultCount returns the total number of search results across all records.
func (l *Ledger) ResultCount() int {
	n := 0
	for _, r := range l.Records {
		n += len(r.Results)
	}
	return n
}

// GapCount returns the total number of recorded search gaps.
func (l *Ledger) GapCount() int {
	n := 0
	for _, r := range l.Records {
		n += len(r.Gaps)
	}
	return n
}

// Corpus concatenates every finding across all iterations, grouped per
// sub-topic in topic creation order regardless of which iteration produced
// it. Pure function of the ledger: identical ledgers yield identical corpora.
func (l *Ledger) Corpus() string {
	byTopic := make(map[string][]SearchResult)
	for _, rec := range l.Records {
		for _, res := range rec.Results {
			byTopic[res.TopicID] = append(byTopic[res.TopicID], res)
		}
	}

	var b strings.Builder
	for _, t := range l.Topics {
		results := byTopic[t.ID]
		if len(results) == 0 {
			continue
		}
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Iteration < results[j].Iteration
		})
		fmt.Fprintf(&b, "## %s\n%s\n\n", t.Name, t.Description)
		for _, res := range results {
			fmt.Fprintf(&b, "### [iteration %d] %s\n%s\n\n", res.Iteration, res.Query, res.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Summary produces a compact per-topic progress digest for the exploration
// prompt, limited to the last maxRecent iteration records so the context
// stays bounded on long runs.
func (l *Ledger) Summary(maxRecent int) string {
	if len(l.Topics) == 0 {
		return "No sub-topics established yet."
	}

	var b strings.Builder
	b.WriteString("Known sub-topics:\n")
	for _, t := range l.Topics {
		fmt.Fprintf(&b, "- %s (depth %d, %s): %s\n", t.Name, t.Depth, t.Status, t.Description)
	}

	records := l.Records
	if maxRecent > 0 && len(records) > maxRecent {
		records = records[len(records)-maxRecent:]
	}
	for _, rec := range records {
		fmt.Fprintf(&b, "\nIteration %d: %d results, %d gaps across %d sub-topics",
			rec.Iteration, len(rec.Results), len(rec.Gaps), len(rec.TopicIDs))
	}
	return b.String()
}

// Snapshot summarizes run progress for error details and result metadata.
type Snapshot struct {
	Iterations      int `json:"iterations"`
	TotalTopics     int `json:"total_topics"`
	ActiveTopics    int `json:"active_topics"`
	ExhaustedTopics int `json:"exhausted_topics"`
	SearchResults   int `json:"search_results"`
	SearchGaps      int `json:"search_gaps"`
}

// Stats returns a snapshot of the ledger's progress counters.
func (l *Ledger) Stats() Snapshot {
	s := Snapshot{
		Iterations:    len(l.Records),
		TotalTopics:   len(l.Topics),
		SearchResults: l.ResultCount(),
		SearchGaps:    l.GapCount(),
	}
	for _, t := range l.Topics {
		switch t.Status {
		case TopicActive:
			s.ActiveTopics++
		case TopicExhausted:
			s.ExhaustedTopics++
		}
	}
	return s
}

// normalize reduces a description to a comparison key: case-folded,
// punctuation stripped, whitespace collapsed.
func normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
