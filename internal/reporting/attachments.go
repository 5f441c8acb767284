package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

// Collector writes test artifacts into the run's attachment directory and
// hands back schemas.Attachment records for the result. Safe for concurrent
// use by workers.
type Collector struct {
	dir string
	mu  sync.Mutex
}

// NewCollector creates the attachment directory if needed.
func NewCollector(dir string) (*Collector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment dir: %w", err)
	}
	return &Collector{dir: dir}, nil
}

// Dir returns the attachment directory.
func (c *Collector) Dir() string { return c.dir }

// Save writes data as a new attachment file and returns its record.
func (c *Collector) Save(name string, typ schemas.AttachmentType, data []byte) (schemas.Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fileName := fmt.Sprintf("%s-%s.%s", sanitize(name), uuid.New().String()[:8], typ.Extension())
	path := filepath.Join(c.dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return schemas.Attachment{}, fmt.Errorf("failed to write attachment %s: %w", name, err)
	}
	return schemas.Attachment{
		Name: name,
		Type: typ,
		Path: path,
		Size: int64(len(data)),
	}, nil
}

// SavePageSource stores an HTML document, naming the attachment after the
// document's <title> when it has one.
func (c *Collector) SavePageSource(fallbackName, source string) (schemas.Attachment, error) {
	name := fallbackName
	if title := extractTitle(source); title != "" {
		name = title
	}
	return c.Save(name, schemas.AttachmentPageSource, []byte(source))
}

// extractTitle pulls the <title> text out of an HTML document. Parsing is
// tolerant; a broken document just yields "".
func extractTitle(source string) string {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return ""
	}
	var walk func(*html.Node) string
	walk = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				return strings.TrimSpace(n.FirstChild.Data)
			}
			return ""
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if title := walk(child); title != "" {
				return title
			}
		}
		return ""
	}
	return walk(doc)
}

// sanitize makes a string safe to use as a file name fragment.
func sanitize(s string) string {
	mapper := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}
	out := strings.Map(mapper, s)
	if out == "" {
		out = "attachment"
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
