package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMessagesAPI(t *testing.T, status int, body string, seen *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGenerator(t *testing.T, url string) *AnthropicGenerator {
	t.Helper()
	g, err := NewAnthropic(AnthropicConfig{
		BaseURL:   url,
		APIKey:    "test-key",
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 1024,
		Timeout:   5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return g
}

func TestAnthropicGenerate(t *testing.T) {
	var seen map[string]interface{}
	srv := fakeMessagesAPI(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"content": [{"type": "text", "text": "# Veckorapport\n\n"}, {"type": "text", "text": "PERSON_1 levererade."}],
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": 12, "output_tokens": 8}
	}`, &seen)

	out, err := newTestGenerator(t, srv.URL).Generate(context.Background(), Prompt{
		System: "system text",
		User:   "PERSON_1 levererade.",
	})
	require.NoError(t, err)
	assert.Equal(t, "# Veckorapport\n\nPERSON_1 levererade.", out)

	assert.Equal(t, "claude-sonnet-4-20250514", seen["model"])
	assert.EqualValues(t, 1024, seen["max_tokens"])
	system, ok := seen["system"].([]interface{})
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "system text", system[0].(map[string]interface{})["text"])
}

func TestAnthropicGenerateAPIError(t *testing.T) {
	srv := fakeMessagesAPI(t, http.StatusUnauthorized,
		`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, nil)

	_, err := newTestGenerator(t, srv.URL).Generate(context.Background(), Prompt{System: "s", User: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestAnthropicGenerateRejectsEmptyPrompt(t *testing.T) {
	g := newTestGenerator(t, "http://127.0.0.1:1")
	_, err := g.Generate(context.Background(), Prompt{System: "s"})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	_, err := NewAnthropic(AnthropicConfig{Model: "m"}, nil)
	assert.Error(t, err)
}

func TestCleanRemovesVersionHeadersAndSeparators(t *testing.T) {
	in := "## OneNote version:\n\n# Veckorapport\n\nLäget är grönt.\n---\nNästa steg."
	assert.Equal(t, "# Veckorapport\n\nLäget är grönt.\n\nNästa steg.", Clean(in))
}

func TestCleanDropsDuplicatedHalf(t *testing.T) {
	paragraphs := []string{
		"Leveransen av modulen är klar",
		"**Risker** kvarstår kring integrationen",
		"Budgeten följer plan för kvartalet",
	}
	body := strings.Join(append(append([]string{}, paragraphs...), paragraphs...), "\n\n")
	in := "# Rapport\n\n" + body

	assert.Equal(t, "# Rapport\n\n"+strings.Join(paragraphs, "\n\n"), Clean(in))
}

func TestCleanKeepsDistinctParagraphs(t *testing.T) {
	in := "alfa ett\n\nbeta två\n\ngamma tre\n\ndelta fyra\n\nepsilon fem\n\nzeta sex"
	assert.Equal(t, in, Clean(in))
}

func TestCleanCollapsesNewlines(t *testing.T) {
	assert.Equal(t, "a\n\nb", Clean("\n\na\n\n\n\n\nb\n\n"))
}

func TestSplitVersions(t *testing.T) {
	t.Run("split on header", func(t *testing.T) {
		v, ok := SplitVersions("OneNote version:\nKort sammanfattning\n\nWord version:\n# Rapport\n- punkt")
		assert.True(t, ok)
		assert.Equal(t, "Kort sammanfattning", v.OneNote)
		assert.Equal(t, "# Rapport\n- punkt", v.Word)
	})

	t.Run("no header", func(t *testing.T) {
		v, ok := SplitVersions("# Rapport")
		assert.False(t, ok)
		assert.Equal(t, "# Rapport", v.OneNote)
		assert.Equal(t, "# Rapport", v.Word)
	})

	t.Run("word part without markdown", func(t *testing.T) {
		in := "sammanfattning\nWORD VERSION\nbara text"
		v, ok := SplitVersions(in)
		assert.True(t, ok)
		assert.Equal(t, "sammanfattning", v.OneNote)
		assert.Equal(t, in, v.Word)
	})
}

func TestLookupDocumentType(t *testing.T) {
	dt, err := LookupDocumentType("risk")
	require.NoError(t, err)
	assert.Equal(t, "Risklogg", dt.NameSv)
	assert.Contains(t, dt.SystemPrompt(), "Risklogg")

	_, err = LookupDocumentType("memo")
	assert.ErrorIs(t, err, ErrUnknownDocumentType)

	all := DocumentTypes()
	require.Len(t, all, 9)
	all[0].ID = "changed"
	assert.Equal(t, "weekly", DocumentTypes()[0].ID)
}
