package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/service"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func investigationID(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid investigation id %q", args[0])
	}
	return id, nil
}

func newStartCmd(g *globalFlags) *cobra.Command {
	var (
		in            service.StartInput
		budget        float64
		minConfidence float64
		maxRounds     int
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an investigation for a service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			if f.Changed("budget") {
				in.Overrides.Budget = &budget
			}
			if f.Changed("min-confidence") {
				in.Overrides.MinConfidence = &minConfidence
			}
			if f.Changed("max-rounds") {
				in.Overrides.MaxRounds = &maxRounds
			}

			resp, err := g.client().Start(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("start investigation: %w", err)
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, resp)
			}
			fmt.Fprintf(out, "Investigation: %s\n", resp.InvestigationID)
			fmt.Fprintf(out, "Phase:         %s\n", resp.Phase)
			if len(resp.PriorLessons) > 0 {
				fmt.Fprintf(out, "Prior lessons:\n")
				for _, l := range resp.PriorLessons {
					fmt.Fprintf(out, "  - %s\n", l)
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Service, "service", "", "affected service (required)")
	f.StringArrayVar(&in.Symptoms, "symptom", nil, "observed symptom, repeatable (at least one)")
	f.Float64Var(&budget, "budget", 0, "override the investigation budget in USD")
	f.Float64Var(&minConfidence, "min-confidence", 0, "override the eligibility threshold")
	f.IntVar(&maxRounds, "max-rounds", 0, "override the hypothesis round limit")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("symptom")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent investigations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := g.client().List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list investigations: %w", err)
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, items)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERVICE\tPHASE\tOUTCOME\tCOST\tUPDATED")
			for _, s := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t$%.2f\t%s\n",
					s.InvestigationID, s.Service, s.Phase, s.Outcome, s.TotalCost, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of investigations to show")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <investigation-id>",
		Short: "Show phase, spend and any pending decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := investigationID(args)
			if err != nil {
				return err
			}
			st, err := g.client().Status(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Investigation: %s\n", st.InvestigationID)
			fmt.Fprintf(out, "Service:       %s\n", st.Service)
			fmt.Fprintf(out, "Phase:         %s\n", st.Phase)
			fmt.Fprintf(out, "Outcome:       %s (%s)\n", st.Outcome, st.Report)
			fmt.Fprintf(out, "Round:         %d\n", st.Round)
			fmt.Fprintf(out, "Spend:         $%.2f of $%.2f\n", st.TotalCost, st.Budget)
			if st.FailureReason != "" {
				fmt.Fprintf(out, "Failure:       %s\n", st.FailureReason)
			}
			if d := st.PendingDecision; d != nil {
				writeDecisionPoint(out, d)
			}
			return nil
		},
	}
}

func writeDecisionPoint(out io.Writer, d *domain.HumanDecisionPoint) {
	fmt.Fprintf(out, "Awaiting decision %s\n", d.ID)
	fmt.Fprintf(out, "  Recommendation: %s", d.Recommendation.Kind)
	if d.Recommendation.HypothesisID != nil {
		fmt.Fprintf(out, " %s", d.Recommendation.HypothesisID)
	}
	fmt.Fprintf(out, " (%.2f) %s\n", d.Recommendation.Confidence, d.Recommendation.Reasoning)
	for _, opt := range d.Options {
		marker := " "
		if opt.Eligible {
			marker = "*"
		}
		fmt.Fprintf(out, "  %s %-20s %s\n", marker, opt.Kind, opt.Label)
	}
}

func newHypothesesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "hypotheses <investigation-id>",
		Short: "Show hypotheses ranked by confidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := investigationID(args)
			if err != nil {
				return err
			}
			ranked, err := g.client().Hypotheses(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get hypotheses: %w", err)
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, ranked)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tID\tCONF\tSTATUS\tELIGIBLE\tSTATEMENT")
			for _, r := range ranked {
				h := r.Hypothesis
				fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\t%t\t%s\n",
					r.Rank, h.ID, h.CurrentConfidence, h.Status, r.Eligible, h.Statement)
			}
			return tw.Flush()
		},
	}
}

func newChronicleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chronicle <investigation-id>",
		Short: "Print the full audit chronicle as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := investigationID(args)
			if err != nil {
				return err
			}
			raw, err := g.client().Chronicle(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get chronicle: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func newDecideCmd(g *globalFlags) *cobra.Command {
	var (
		in         domain.DecisionInput
		kind       string
		hypothesis string
	)
	cmd := &cobra.Command{
		Use:   "decide <investigation-id>",
		Short: "Answer the pending decision gate",
		Long: `Answer the pending decision gate of an investigation.

Kinds: select, propose, investigate_further, abort, resolved.
select and resolved take --hypothesis; propose takes --statement.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := investigationID(args)
			if err != nil {
				return err
			}
			if !domain.ValidDecisionKind(kind) {
				return fmt.Errorf("invalid decision kind %q", kind)
			}
			in.Kind = domain.DecisionKind(kind)
			if hypothesis != "" {
				hid, err := uuid.Parse(hypothesis)
				if err != nil {
					return fmt.Errorf("invalid hypothesis id %q", hypothesis)
				}
				in.HypothesisID = &hid
			}
			in.Statement = strings.TrimSpace(in.Statement)

			d, err := g.client().Decide(cmd.Context(), id, in)
			if err != nil {
				return fmt.Errorf("submit decision: %w", err)
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, d)
			}
			agreed := "overrode"
			if d.AgreesWithRecommendation {
				agreed = "agreed with"
			}
			fmt.Fprintf(out, "Recorded %s (%s recommendation %s)\n", d.ChosenKind, agreed, d.Recommendation.Kind)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&kind, "kind", "", "decision kind (required)")
	f.StringVar(&hypothesis, "hypothesis", "", "hypothesis id for select or resolved")
	f.StringVar(&in.Statement, "statement", "", "new hypothesis statement for propose")
	f.StringSliceVar(&in.AffectedSystems, "affected", nil, "affected systems for propose")
	f.StringVar(&in.Reasoning, "reasoning", "", "why this decision was made")
	f.Float64Var(&in.DeclaredConfidence, "confidence", 0, "declared confidence between 0 and 1")
	f.StringVar(&in.DecidedBy, "by", envOr("USER", ""), "who made the decision")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newStopCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <investigation-id>",
		Short: "Stop a running investigation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := investigationID(args)
			if err != nil {
				return err
			}
			if err := g.client().Stop(cmd.Context(), id); err != nil {
				return fmt.Errorf("stop investigation: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", id)
			return nil
		},
	}
}

func newLessonsCmd(g *globalFlags) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "lessons <query>",
		Short: "Search lessons learned from disproven hypotheses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := g.client().SimilarLessons(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return fmt.Errorf("search lessons: %w", err)
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, matches)
			}
			if len(matches) == 0 {
				fmt.Fprintln(out, "No matching lessons.")
				return nil
			}
			for _, m := range matches {
				fmt.Fprintf(out, "%.2f  [%s] %s\n", m.Score, m.Service, m.Statement)
				for _, l := range m.Lessons {
					fmt.Fprintf(out, "      - %s\n", l)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 5, "number of matches to return")
	return cmd
}
