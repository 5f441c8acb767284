package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhantruonghcmut/uitf/internal/history"
	"github.com/nhantruonghcmut/uitf/internal/observability"
)

var (
	historyLimit     int
	historySinceDays int
	historyMinBroken int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the run-history store.",
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.RecentRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%s  %-12s  %s  %4dP %4dF %4dS %4dB  %s\n",
				r.StartedAt.Format("2006-01-02 15:04"), r.Environment,
				r.RunID[:8], r.Passed, r.Failed, r.Skipped, r.Broken,
				r.Duration.Round(time.Second))
		}
		return nil
	},
}

var historyFlakyCmd = &cobra.Command{
	Use:   "flaky",
	Short: "List cases that keep going broken.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		since := time.Now().AddDate(0, 0, -historySinceDays)
		flaky, err := store.FlakyTests(cmd.Context(), since, historyMinBroken)
		if err != nil {
			return err
		}
		if len(flaky) == 0 {
			fmt.Println("no flaky cases in the window")
			return nil
		}
		for _, f := range flaky {
			fmt.Printf("%-60s broken=%d failed=%d last=%s\n",
				f.Suite+"/"+f.Name, f.BrokenCount, f.FailedCount,
				f.LastSeen.Format("2006-01-02"))
		}
		return nil
	},
}

func openStore(cmd *cobra.Command) (*history.Store, error) {
	url := cfg.Database().URL
	if url == "" {
		return nil, fmt.Errorf("no database configured; set database.url or UITF_DATABASE_URL")
	}
	return history.Connect(cmd.Context(), url, observability.GetLogger())
}

func init() {
	historyRunsCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	historyFlakyCmd.Flags().IntVar(&historySinceDays, "days", 14, "look-back window in days")
	historyFlakyCmd.Flags().IntVar(&historyMinBroken, "min-broken", 1, "minimum broken outcomes to report")
	historyCmd.AddCommand(historyRunsCmd, historyFlakyCmd)
	rootCmd.AddCommand(historyCmd)
}
