package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldmark/fieldmark/internal/fill"
	"github.com/fieldmark/fieldmark/internal/pipeline"
	"github.com/fieldmark/fieldmark/internal/store"
	"github.com/fieldmark/fieldmark/internal/tagger"
	"github.com/fieldmark/fieldmark/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatFunc func(ctx context.Context, system, user string) (string, error)

func (f chatFunc) Chat(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// tagDates echoes every input back, except dates which become {{issueDate}}.
var tagDates = chatFunc(func(_ context.Context, _, user string) (string, error) {
	var inputs []string
	if err := json.Unmarshal([]byte(user), &inputs); err != nil {
		return "[]", nil
	}
	out := make([]string, len(inputs))
	for i, in := range inputs {
		if strings.HasPrefix(in, "09-07-2025") {
			out[i] = "{{issueDate}}"
		} else {
			out[i] = strings.SplitN(in, " [", 2)[0]
		}
	}
	resp, _ := json.Marshal(out)
	return string(resp), nil
})

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tg := tagger.New(tagDates, tagger.DefaultTaxonomy(), nil)
	p := pipeline.New(tg, nil, pipeline.Options{}, nil)
	runner := pipeline.NewRunner(p, st, time.Minute, nil)
	return New(runner, st, nil), st
}

func doJSON(t *testing.T, srv *Server, method, path string, body []byte) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec.Code, env
}

func pollJob(t *testing.T, srv *Server, jobID string) map[string]any {
	t.Helper()
	var data map[string]any
	require.Eventually(t, func() bool {
		code, env := doJSON(t, srv, http.MethodGet, "/api/jobs/"+jobID, nil)
		require.Equal(t, http.StatusOK, code)
		data = env["data"].(map[string]any)
		status := data["status"].(string)
		return status == store.JobCompleted || status == store.JobFailed
	}, 10*time.Second, 10*time.Millisecond)
	return data
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	code, env := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, env["success"])
}

func TestProcessAndFillFlow(t *testing.T) {
	srv, _ := testServer(t)
	body := test.BuildDocx(`<w:p><w:r><w:t>Data:</w:t></w:r><w:r><w:t>09-07-2025</w:t></w:r></w:p>`)

	code, env := doJSON(t, srv, http.MethodPost, "/api/documents/process?name=zgloszenie.docx", body)
	require.Equal(t, http.StatusAccepted, code)
	jobID := env["data"].(map[string]any)["jobId"].(string)
	require.NotEmpty(t, jobID)

	job := pollJob(t, srv, jobID)
	require.Equal(t, store.JobCompleted, job["status"], "job error: %v", job["error"])

	result := job["result"].(map[string]any)
	templateID := result["templateId"].(string)
	require.NotEmpty(t, templateID)

	// Listing shows the stored template with its glossary.
	code, env = doJSON(t, srv, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, code)
	items := env["data"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "zgloszenie.docx", item["name"])
	assert.Equal(t, "09-07-2025", item["tagMetadata"].(map[string]any)["issueDate"])

	// Fill the template from OCR fields.
	fillBody, err := json.Marshal(map[string]any{
		"fields": []fill.OCRField{{Tag: "issueDate", Value: "01-01-2026", Confidence: 0.95}},
	})
	require.NoError(t, err)

	code, env = doJSON(t, srv, http.MethodPost, "/api/templates/"+templateID+"/fill", fillBody)
	require.Equal(t, http.StatusAccepted, code)
	fillJobID := env["data"].(map[string]any)["jobId"].(string)

	fillJob := pollJob(t, srv, fillJobID)
	require.Equal(t, store.JobCompleted, fillJob["status"], "job error: %v", fillJob["error"])
	fillResult := fillJob["result"].(map[string]any)
	assert.NotEmpty(t, fillResult["docxBase64"])
	stats := fillResult["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["replacementsMade"])
}

func TestProcessRejectsEmptyBody(t *testing.T) {
	srv, _ := testServer(t)
	code, env := doJSON(t, srv, http.MethodPost, "/api/documents/process", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, env["success"])
	assert.NotEmpty(t, env["error"])
}

func TestJobStatusNotFound(t *testing.T) {
	srv, _ := testServer(t)
	code, env := doJSON(t, srv, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, env["success"])
}

func TestFillUnknownTemplate(t *testing.T) {
	srv, _ := testServer(t)
	code, _ := doJSON(t, srv, http.MethodPost, "/api/templates/missing/fill", []byte(`{"fields":[]}`))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFillMalformedBody(t *testing.T) {
	srv, _ := testServer(t)
	code, _ := doJSON(t, srv, http.MethodPost, "/api/templates/whatever/fill", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListTemplatesEmpty(t *testing.T) {
	srv, _ := testServer(t)
	code, env := doJSON(t, srv, http.MethodGet, "/api/templates", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, env["data"])
}
