// Package reporting turns a finished run into report files. Formats share
// the Reporter interface; New dispatches on the format name so the CLI can
// stack several formats per run.
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

// Reporter writes a run result in one output format.
type Reporter interface {
	// Write renders the run result.
	Write(result *schemas.RunResult) error
	// Close finalizes the report and releases any underlying resources.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format. outputPath is a file path for
// json and junit ("" or "stdout" writes to standard out), and a directory
// for allure.
func New(format, outputPath string) (Reporter, error) {
	if format == "allure" {
		// Allure is a results directory, not a single file.
		dir := outputPath
		if dir == "" || dir == "stdout" {
			dir = "allure-results"
		}
		return NewAllureReporter(dir)
	}

	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "json":
		return NewJSONReporter(writer), nil
	case "junit":
		return NewJUnitReporter(writer), nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// DefaultFileName suggests the output file name for a format inside the
// report directory.
func DefaultFileName(format string) string {
	switch format {
	case "json":
		return "results.json"
	case "junit":
		return "junit.xml"
	case "allure":
		return "allure-results"
	default:
		return "results." + format
	}
}
