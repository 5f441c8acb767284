package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

// allureResult mirrors the Allure 2 result JSON schema, one file per test.
type allureResult struct {
	UUID          string             `json:"uuid"`
	HistoryID     string             `json:"historyId"`
	Name          string             `json:"name"`
	FullName      string             `json:"fullName"`
	Status        string             `json:"status"`
	StatusDetails *allureDetails     `json:"statusDetails,omitempty"`
	Stage         string             `json:"stage"`
	Start         int64              `json:"start"`
	Stop          int64              `json:"stop"`
	Labels        []allureLabel      `json:"labels"`
	Steps         []allureStep       `json:"steps,omitempty"`
	Attachments   []allureAttachment `json:"attachments,omitempty"`
}

type allureDetails struct {
	Message string `json:"message"`
}

type allureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type allureStep struct {
	Name          string         `json:"name"`
	Status        string         `json:"status"`
	StatusDetails *allureDetails `json:"statusDetails,omitempty"`
	Stage         string         `json:"stage"`
	Start         int64          `json:"start"`
	Stop          int64          `json:"stop"`
}

type allureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureReporter emits an allure-results directory: one result JSON per test
// case plus copies of the collected attachments.
type AllureReporter struct {
	dir string
}

// NewAllureReporter creates the results directory if needed.
func NewAllureReporter(dir string) (*AllureReporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create allure results dir: %w", err)
	}
	return &AllureReporter{dir: dir}, nil
}

// Write emits one result file per test case.
func (r *AllureReporter) Write(result *schemas.RunResult) error {
	for _, tr := range result.Results {
		if err := r.writeCase(result, tr); err != nil {
			return err
		}
	}
	return nil
}

func (r *AllureReporter) writeCase(run *schemas.RunResult, tr schemas.TestResult) error {
	id := uuid.New().String()
	start := tr.StartedAt
	stop := start.Add(tr.Duration)

	res := allureResult{
		UUID:      id,
		HistoryID: tr.Suite + "/" + tr.Name,
		Name:      tr.Name,
		FullName:  tr.Suite + "." + tr.Name,
		Status:    string(tr.Status),
		Stage:     "finished",
		Start:     toEpochMs(start),
		Stop:      toEpochMs(stop),
		Labels: []allureLabel{
			{Name: "suite", Value: tr.Suite},
			{Name: "host", Value: run.Environment},
			{Name: "framework", Value: "uitf"},
			{Name: "platform", Value: string(tr.Platform)},
		},
	}
	if tr.Error != "" {
		res.StatusDetails = &allureDetails{Message: tr.Error}
	}

	for _, step := range tr.Steps {
		s := allureStep{
			Name:   step.Name,
			Status: string(step.Status),
			Stage:  "finished",
			Start:  toEpochMs(step.StartedAt),
			Stop:   toEpochMs(step.StoppedAt),
		}
		if step.Error != "" {
			s.StatusDetails = &allureDetails{Message: step.Error}
		}
		res.Steps = append(res.Steps, s)
	}

	for _, att := range tr.Attachments {
		source, err := r.copyAttachment(att)
		if err != nil {
			return err
		}
		res.Attachments = append(res.Attachments, allureAttachment{
			Name:   att.Name,
			Source: source,
			Type:   att.Type.MimeType(),
		})
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal allure result: %w", err)
	}
	path := filepath.Join(r.dir, id+"-result.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write allure result: %w", err)
	}
	return nil
}

// copyAttachment copies an artifact into the results dir under the name
// Allure expects and returns that name.
func (r *AllureReporter) copyAttachment(att schemas.Attachment) (string, error) {
	source := uuid.New().String() + "-attachment." + att.Type.Extension()

	in, err := os.Open(att.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open attachment %s: %w", att.Path, err)
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(r.dir, source))
	if err != nil {
		return "", fmt.Errorf("failed to create attachment copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("failed to copy attachment: %w", err)
	}
	return source, nil
}

// Close is a no-op; every result file is flushed in Write.
func (r *AllureReporter) Close() error { return nil }

func toEpochMs(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
