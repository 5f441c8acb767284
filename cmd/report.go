package cmd

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/nhantruonghcmut/uitf/api/schemas"
	"github.com/nhantruonghcmut/uitf/internal/reporting"
)

var (
	reportInput  string
	reportFormat string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Re-render a saved run result into another report format.",
	Long: `Report reads the results.json of a previous run and renders it in a
different format, so a JUnit or Allure report can be produced after the fact
without re-running the suites.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(reportInput)
		if err != nil {
			return fmt.Errorf("failed to read results file: %w", err)
		}
		var run schemas.RunResult
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &run); err != nil {
			return fmt.Errorf("failed to parse results file: %w", err)
		}

		rep, err := reporting.New(reportFormat, reportOutput)
		if err != nil {
			return err
		}
		if err := rep.Write(&run); err != nil {
			rep.Close()
			return err
		}
		return rep.Close()
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportInput, "input", "i", "uitf-results/results.json", "path to a saved results.json")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "junit", "output format: json, junit, allure")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output file or directory (default stdout)")
	rootCmd.AddCommand(reportCmd)
}
