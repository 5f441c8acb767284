package reporting

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

// JUnitReporter renders the run result as JUnit-style XML, the lingua franca
// of CI result ingestion. Cases are grouped into one <testsuite> per suite.
type JUnitReporter struct {
	writer io.WriteCloser
}

// NewJUnitReporter creates a JUnit reporter. It takes ownership of the
// writer.
func NewJUnitReporter(writer io.WriteCloser) *JUnitReporter {
	return &JUnitReporter{writer: writer}
}

// Write renders the run result.
func (r *JUnitReporter) Write(result *schemas.RunResult) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", "uitf")
	root.CreateAttr("time", seconds(result.Duration))

	// Preserve first-seen suite order.
	suites := make(map[string]*etree.Element)
	var order []string
	for _, tr := range result.Results {
		if _, ok := suites[tr.Suite]; !ok {
			el := root.CreateElement("testsuite")
			el.CreateAttr("name", tr.Suite)
			el.CreateAttr("timestamp", result.StartedAt.Format(time.RFC3339))
			suites[tr.Suite] = el
			order = append(order, tr.Suite)
		}
	}

	counts := make(map[string]*struct{ tests, failures, skipped int })
	for _, name := range order {
		counts[name] = &struct{ tests, failures, skipped int }{}
	}

	for _, tr := range result.Results {
		suite := suites[tr.Suite]
		c := counts[tr.Suite]
		c.tests++

		tc := suite.CreateElement("testcase")
		tc.CreateAttr("classname", tr.Suite)
		tc.CreateAttr("name", tr.Name)
		tc.CreateAttr("time", seconds(tr.Duration))

		switch tr.Status {
		case schemas.StatusFailed:
			c.failures++
			failure := tc.CreateElement("failure")
			failure.CreateAttr("message", tr.Error)
		case schemas.StatusSkipped:
			c.skipped++
			tc.CreateElement("skipped")
		case schemas.StatusBroken:
			// Passed on retry. Record the flakiness without failing CI.
			flaky := tc.CreateElement("system-out")
			flaky.SetText(fmt.Sprintf("flaky: passed after %d retries; last error: %s", tr.Retries, tr.Error))
		}
	}

	for name, suite := range suites {
		c := counts[name]
		suite.CreateAttr("tests", strconv.Itoa(c.tests))
		suite.CreateAttr("failures", strconv.Itoa(c.failures))
		suite.CreateAttr("skipped", strconv.Itoa(c.skipped))
	}

	doc.Indent(2)
	if _, err := doc.WriteTo(r.writer); err != nil {
		return fmt.Errorf("failed to write JUnit report: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (r *JUnitReporter) Close() error {
	return r.writer.Close()
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
