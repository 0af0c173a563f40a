package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask a question against the indexed documents",
	Long: `Ask a question. The answer cites its sources as [DOCUMENT n]; the sources
are listed below it in the same order, with a lexical coverage score.

Examples:
  docqa ask "Where did the candidate intern?"
  docqa ask --provider gemini --top-k 6 "What languages does the candidate know?"
  docqa ask --no-rerank --json "Which degree did the candidate earn?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().String("provider", "", "LLM provider (default: server default)")
	askCmd.Flags().Int("top-k", 0, "number of passages shown to the model")
	askCmd.Flags().Int("candidates", 0, "number of first-stage candidates")
	askCmd.Flags().Float32("min-score", 0, "minimum similarity score")
	askCmd.Flags().Float32("temperature", 0, "sampling temperature")
	askCmd.Flags().Bool("no-rerank", false, "skip cross-encoder reranking")
	askCmd.Flags().Bool("json", false, "print the raw JSON answer")
	askCmd.Flags().Bool("show-text", false, "print source passages")
}

func runAsk(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	req := AskRequest{Query: strings.Join(args, " ")}
	req.Provider, _ = flags.GetString("provider")
	if flags.Changed("top-k") {
		v, _ := flags.GetInt("top-k")
		req.TopKFinal = &v
	}
	if flags.Changed("candidates") {
		v, _ := flags.GetInt("candidates")
		req.TopKRetrieval = &v
	}
	if flags.Changed("min-score") {
		v, _ := flags.GetFloat32("min-score")
		req.MinScore = &v
	}
	if flags.Changed("temperature") {
		v, _ := flags.GetFloat32("temperature")
		req.Temperature = &v
	}
	if noRerank, _ := flags.GetBool("no-rerank"); noRerank {
		off := false
		req.UseReranker = &off
	}

	answer, err := newClient().Ask(cmd.Context(), req)
	if err != nil {
		return err
	}

	if asJSON, _ := flags.GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}
	showText, _ := flags.GetBool("show-text")
	newPrinter(cmd.OutOrStdout()).answer(answer, showText)
	return nil
}

// printer renders answers for a terminal.
type printer struct {
	out    io.Writer
	header func(a ...any) string
	label  func(a ...any) string
	dim    func(a ...any) string
	good   func(a ...any) string
	warn   func(a ...any) string
}

func newPrinter(out io.Writer) *printer {
	if noColor {
		color.NoColor = true
	}
	return &printer{
		out:    out,
		header: color.New(color.Bold).SprintFunc(),
		label:  color.New(color.FgCyan).SprintFunc(),
		dim:    color.New(color.Faint).SprintFunc(),
		good:   color.New(color.FgGreen).SprintFunc(),
		warn:   color.New(color.FgYellow).SprintFunc(),
	}
}

func (p *printer) answer(a *Answer, showText bool) {
	fmt.Fprintln(p.out, p.header("Answer"))
	fmt.Fprintln(p.out, a.Answer)
	if a.Message != "" {
		fmt.Fprintln(p.out, p.warn(a.Message))
	}

	if len(a.Sources) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, p.header("Sources"))
		for i, src := range a.Sources {
			score := fmt.Sprintf("similarity %.3f", src.Score)
			if src.RerankScore != nil {
				score += fmt.Sprintf(", rerank %.3f", *src.RerankScore)
			}
			fmt.Fprintf(p.out, "  [DOCUMENT %d] %s %s\n", i+1, p.label(src.Label), p.dim("("+score+")"))
			if showText {
				fmt.Fprintf(p.out, "      %s\n", strings.ReplaceAll(strings.TrimSpace(src.Text), "\n", "\n      "))
			}
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.coverage(a))

	var notes []string
	if a.CacheHit {
		notes = append(notes, "cached")
	}
	if a.RerankFallback {
		notes = append(notes, p.warn("rerank failed, bi-encoder order"))
	}
	notes = append(notes, fmt.Sprintf("provider %s", a.Provider))
	notes = append(notes, fmt.Sprintf("retrieval %dms", a.Timings.Retrieval.Milliseconds()))
	if a.Reranked {
		notes = append(notes, fmt.Sprintf("rerank %dms", a.Timings.Rerank.Milliseconds()))
	}
	notes = append(notes, fmt.Sprintf("generation %dms", a.Timings.Generation.Milliseconds()))
	fmt.Fprintln(p.out, p.dim(strings.Join(notes, " · ")))
}

func (p *printer) coverage(a *Answer) string {
	v := a.Verification
	switch {
	case a.Outcome != rag.OutcomeAnswered:
		return p.warn(fmt.Sprintf("Outcome: %s", a.Outcome))
	case v.Empty:
		return p.warn("Coverage: no answer text")
	case v.Coverage >= 50:
		return p.good(fmt.Sprintf("Coverage: %.1f%% (%d/%d words found in sources)", v.Coverage, v.Found, v.Total))
	default:
		return p.warn(fmt.Sprintf("Coverage: %.1f%% (%d/%d words found in sources)", v.Coverage, v.Found, v.Total))
	}
}
