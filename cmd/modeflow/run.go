package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RichLycus/ProjekUtama-sub000/internal/orchestrator"
)

func classifyCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Show the routing decision for a request without running it",
		Long: `Classify runs the intent classifier, complexity analyzer, context scorer
and mode selector and prints the fused decision.

Examples:
  modeflow classify "hello"
  modeflow classify "compare raft and paxos for a 5 node cluster"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := orchestrator.NewRouter(cfg)
			if err != nil {
				return err
			}
			d := rt.Route(strings.Join(args, " "), sessionID)
			if jsonOut {
				return printJSON(d)
			}
			fmt.Println(renderDecision(d))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id for context scoring")
	return cmd
}

type runFlags struct {
	sessionID string
	persona   string
	pipeline  string
	timeout   time.Duration
	steps     bool
	raw       bool
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&f.persona, "persona", "", "persona name, part of the cache key")
	cmd.Flags().StringVar(&f.pipeline, "pipeline", "", "run this tier/name pipeline instead of the routed one")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 2*time.Minute, "per request timeout")
	cmd.Flags().BoolVar(&f.steps, "steps", false, "print the step log")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "print answers without markdown rendering")
}

func (f *runFlags) markdown() *markdown {
	if f.raw {
		return nil
	}
	return newMarkdown(defaultWrap)
}

func runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [text]",
		Short: "Route a request and run its pipeline",
		Long: `Run classifies the request, runs the pipeline for the chosen mode and
prints the answer.

Examples:
  modeflow run "what is a goroutine"
  modeflow run --steps --pipeline thorough/default "explain raft leader election"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch, err := orchestrator.FromConfig(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer orch.Close()

			res := handle(ctx, orch, &f, strings.Join(args, " "))
			if jsonOut {
				return printJSON(resultView(res))
			}
			fmt.Println(formatResult(res, f.steps, f.markdown()))
			if !res.Success {
				return res.Error
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func handle(ctx context.Context, orch *orchestrator.Orchestrator, f *runFlags, text string) *orchestrator.Result {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return orch.Handle(ctx, &orchestrator.Request{
		Text:      text,
		SessionID: f.sessionID,
		Persona:   f.persona,
		Pipeline:  f.pipeline,
	})
}

// formatResult renders the decision line, the optional step log and the
// answer. Successful answers go through md.
func formatResult(res *orchestrator.Result, steps bool, md *markdown) string {
	var parts []string
	if res.Decision != nil {
		parts = append(parts, modeBadge(res.Decision.Mode)+dimStyle.Render("  "+res.Pipeline+"  "+res.Duration.Round(time.Millisecond).String()))
	}
	if steps && res.Context != nil {
		parts = append(parts, renderSteps(res.Context))
	}
	if res.Success {
		parts = append(parts, md.Render(res.Response))
		return strings.Join(parts, "\n")
	}
	parts = append(parts, warnStyle.Render(res.Response))
	if verbose && res.Error != nil {
		parts = append(parts, errorStyle.Render(res.Error.Error()))
	}
	return strings.Join(parts, "\n")
}

type resultJSON struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Pipeline string `json:"pipeline,omitempty"`
	Error    string `json:"error,omitempty"`
	Decision any    `json:"decision,omitempty"`
	Metadata any    `json:"metadata,omitempty"`
}

func resultView(res *orchestrator.Result) resultJSON {
	out := resultJSON{
		Success:  res.Success,
		Response: res.Response,
		Pipeline: res.Pipeline,
	}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}
	if res.Decision != nil {
		out.Decision = res.Decision
	}
	if res.Context != nil {
		out.Metadata = res.Context.Metadata
	}
	return out
}
