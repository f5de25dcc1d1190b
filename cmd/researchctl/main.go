package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/temporal"
	"github.com/fathomlabs/fathom/internal/workflows"
)

func main() {
	var (
		query        = flag.String("query", "Write up an analysis of Apple Inc.'s most recent quarter.", "research question to investigate")
		iterations   = flag.Int("iterations", 0, "explore-exploit iteration budget (0 = server default)")
		depth        = flag.Int("depth", 0, "max depth per sub-topic (0 = server default)")
		active       = flag.Int("active", 0, "max concurrently active sub-topics (0 = server default)")
		writerRounds = flag.Int("writer-rounds", 0, "writer tool-call rounds before forcing a draft (0 = server default)")
		hostPort     = flag.String("temporal", envOrDefault("TEMPORAL_HOST", "localhost:7233"), "Temporal frontend host:port")
		timeout      = flag.Duration("timeout", 30*time.Minute, "how long to wait for the run to finish")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	c, err := client.Dial(client.Options{
		HostPort: *hostPort,
		Logger:   temporal.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	opts := client.StartWorkflowOptions{
		ID:                       "research-" + uuid.New().String(),
		TaskQueue:                workflows.TaskQueue,
		WorkflowExecutionTimeout: 30 * time.Minute,
		WorkflowRunTimeout:       25 * time.Minute,
	}
	input := workflows.ResearchInput{
		Query:              *query,
		MaxIterations:      *iterations,
		MaxDepthPerTopic:   *depth,
		MaxActiveSubTopics: *active,
		MaxWriterRounds:    *writerRounds,
	}

	run, err := c.ExecuteWorkflow(ctx, opts, workflows.DeepResearchWorkflow, input)
	if err != nil {
		logger.Fatal("Failed to start research run", zap.Error(err))
	}
	logger.Info("Research run started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)

	var result workflows.ResearchResult
	if err := run.Get(ctx, &result); err != nil {
		logger.Error("Research run failed", zap.Error(err))
		os.Exit(1)
	}

	printResult(result)
}

func printResult(result workflows.ResearchResult) {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println(result.Report)
	fmt.Println(strings.Repeat("=", 72))

	if len(result.FollowUpQuestions) > 0 {
		fmt.Println("\nFollow-up questions:")
		for _, q := range result.FollowUpQuestions {
			fmt.Printf("  - %s\n", q)
		}
	}

	if result.Verified {
		fmt.Println("\nVerification: passed")
	} else {
		fmt.Println("\nVerification: flagged")
	}
	for _, issue := range result.Issues {
		fmt.Printf("  ! %s\n", issue)
	}

	fmt.Printf("\nIterations: %d  Sub-topics: %d  Findings: %d  Gaps: %d\n",
		result.Iterations, len(result.Topics), result.SearchResults, result.SearchGaps)
	for _, topic := range result.Topics {
		fmt.Printf("  [%s] %s (depth %d, %s)\n", topic.ID, topic.Name, topic.Depth, topic.Status)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
