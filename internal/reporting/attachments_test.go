package reporting

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

func TestCollectorSave(t *testing.T) {
	c, err := NewCollector(t.TempDir())
	require.NoError(t, err)

	att, err := c.Save("checkout failure", schemas.AttachmentScreenshot, []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)

	assert.Equal(t, "checkout failure", att.Name)
	assert.Equal(t, schemas.AttachmentScreenshot, att.Type)
	assert.Equal(t, int64(4), att.Size)
	assert.True(t, strings.HasSuffix(att.Path, ".png"), att.Path)
	assert.Contains(t, att.Path, "checkout_failure")

	data, err := os.ReadFile(att.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestSavePageSourceUsesDocumentTitle(t *testing.T) {
	c, err := NewCollector(t.TempDir())
	require.NoError(t, err)

	source := `<html><head><title> Order Confirmation </title></head><body></body></html>`
	att, err := c.SavePageSource("fallback", source)
	require.NoError(t, err)
	assert.Equal(t, "Order Confirmation", att.Name)
	assert.Equal(t, schemas.AttachmentPageSource, att.Type)
}

func TestSavePageSourceFallsBackWithoutTitle(t *testing.T) {
	c, err := NewCollector(t.TempDir())
	require.NoError(t, err)

	att, err := c.SavePageSource("fallback", `<div>no title here</div>`)
	require.NoError(t, err)
	assert.Equal(t, "fallback", att.Name)
}

func TestExtractTitle(t *testing.T) {
	cases := []struct {
		name   string
		source string
		want   string
	}{
		{"simple", "<html><head><title>Home</title></head></html>", "Home"},
		{"whitespace", "<title>\n  Cart \t</title>", "Cart"},
		{"empty title", "<title></title>", ""},
		{"missing", "<html><body><p>x</p></body></html>", ""},
		{"not html", "{}", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractTitle(tc.source))
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "guest_purchase", sanitize("guest purchase"))
	assert.Equal(t, "attachment", sanitize("///"))
	assert.Equal(t, "caf", sanitize("café"))
	long := strings.Repeat("a", 100)
	assert.Len(t, sanitize(long), 64)
}
