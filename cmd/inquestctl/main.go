// inquestctl drives the investigation API from a terminal: start an
// investigation, watch its hypotheses, and answer the decision gate.
package main

import (
	"fmt"
	"os"

	"github.com/Harshitk-cp/inquest/internal/buildconfig"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	server string
	apiKey string
	json   bool
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "inquestctl",
		Short:         "Command-line client for the inquest investigation engine",
		Version:       buildconfig.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("INQUEST_SERVER", "http://localhost:8080"), "API base URL (env INQUEST_SERVER)")
	pf.StringVar(&g.apiKey, "api-key", os.Getenv("INQUEST_API_KEY"), "tenant API key (env INQUEST_API_KEY)")
	pf.BoolVar(&g.json, "json", false, "print raw JSON instead of a summary")

	root.AddCommand(
		newStartCmd(g),
		newListCmd(g),
		newStatusCmd(g),
		newHypothesesCmd(g),
		newChronicleCmd(g),
		newDecideCmd(g),
		newStopCmd(g),
		newLessonsCmd(g),
	)
	return root
}

func (g *globalFlags) client() *client {
	return newClient(g.server, g.apiKey)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
