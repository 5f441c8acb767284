package schemas

import (
	"time"
)

// Status classifies the outcome of a single test case.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	// StatusBroken marks a case that failed at least once but passed on a
	// retry. Flaky, in other words.
	StatusBroken Status = "broken"
)

// Platform identifies which driver stack a suite runs against.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformAndroid Platform = "android"
)

// AttachmentType labels the payload of an attachment so reporters can pick
// sensible MIME types and file extensions.
type AttachmentType string

const (
	AttachmentScreenshot AttachmentType = "screenshot"
	AttachmentPageSource AttachmentType = "page_source"
	AttachmentHAR        AttachmentType = "har"
	AttachmentLogcat     AttachmentType = "logcat"
	AttachmentText       AttachmentType = "text"
)

// MimeType returns the MIME type reporters should record for this attachment.
func (t AttachmentType) MimeType() string {
	switch t {
	case AttachmentScreenshot:
		return "image/png"
	case AttachmentPageSource:
		return "text/html"
	case AttachmentHAR:
		return "application/json"
	default:
		return "text/plain"
	}
}

// Extension returns the file extension (without dot) for this attachment type.
func (t AttachmentType) Extension() string {
	switch t {
	case AttachmentScreenshot:
		return "png"
	case AttachmentPageSource:
		return "html"
	case AttachmentHAR:
		return "har"
	default:
		return "txt"
	}
}

// Attachment is a single artifact collected during a test case: a screenshot,
// the final page source, a HAR snapshot, or a logcat slice.
type Attachment struct {
	Name string         `json:"name"`
	Type AttachmentType `json:"type"`
	// Path points at the file under the run's artifact directory.
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Step records one named action inside a test case, for step-level reporting.
type Step struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Error     string    `json:"error,omitempty"`
}

// TestResult is the outcome of a single test case execution, including any
// retries that were consumed.
type TestResult struct {
	ID          string       `json:"id"`
	Suite       string       `json:"suite"`
	Name        string       `json:"name"`
	Platform    Platform     `json:"platform"`
	Status      Status       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Retries     int          `json:"retries"`
	StartedAt   time.Time    `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Steps       []Step       `json:"steps,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// RunResult aggregates every test result of one runner invocation.
type RunResult struct {
	RunID       string       `json:"run_id"`
	Environment string       `json:"environment"`
	StartedAt   time.Time    `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Results     []TestResult `json:"results"`
}

// Counts returns the number of passed, failed, skipped and broken cases.
func (r *RunResult) Counts() (passed, failed, skipped, broken int) {
	for _, tr := range r.Results {
		switch tr.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		case StatusBroken:
			broken++
		}
	}
	return
}

// Failed reports whether the run contains at least one hard failure.
func (r *RunResult) Failed() bool {
	_, failed, _, _ := r.Counts()
	return failed > 0
}
