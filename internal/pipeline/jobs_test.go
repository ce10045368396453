package pipeline

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/fieldmark/fieldmark/internal/fill"
	"github.com/fieldmark/fieldmark/internal/store"
	"github.com/fieldmark/fieldmark/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := New(classifyTagger(), nil, Options{}, nil)
	return NewRunner(p, st, time.Minute, nil), st
}

func waitForJob(t *testing.T, st *store.Store, jobID string) *store.Job {
	t.Helper()
	var job *store.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = st.GetJob(jobID)
		require.NoError(t, err)
		return job.Status == store.JobCompleted || job.Status == store.JobFailed
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func TestProcessJobCompletes(t *testing.T) {
	r, st := testRunner(t)

	jobID, err := r.EnqueueProcess("customs.docx", test.BuildDocx(customsBody))
	require.NoError(t, err)

	job := waitForJob(t, st, jobID)
	require.Equal(t, store.JobCompleted, job.Status)
	assert.Equal(t, "process", job.Kind)

	var res processJobResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	assert.NotEmpty(t, res.DocumentID)
	assert.NotEmpty(t, res.TemplateID)
	assert.Len(t, res.Variables, 2)
	assert.Zero(t, res.FailedTasks)

	// The side effects landed: fields persisted, template stored.
	fields, err := st.FieldsForDocument(res.DocumentID)
	require.NoError(t, err)
	assert.Len(t, fields, 2)

	tmpl, err := st.GetTemplate(res.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, "customs.docx", tmpl.Name)
	assert.Equal(t, res.TagMetadata, tmpl.TagMetadata)
}

func TestProcessJobFailsOnBadPayload(t *testing.T) {
	r, st := testRunner(t)

	jobID, err := r.EnqueueProcess("broken.docx", []byte("not a docx"))
	require.NoError(t, err, "enqueue itself succeeds; the failure is the job's")

	job := waitForJob(t, st, jobID)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.NotEmpty(t, job.Error)
}

func TestFillJobCompletes(t *testing.T) {
	r, st := testRunner(t)

	processID, err := r.EnqueueProcess("customs.docx", test.BuildDocx(customsBody))
	require.NoError(t, err)
	processJob := waitForJob(t, st, processID)
	require.Equal(t, store.JobCompleted, processJob.Status)

	var created processJobResult
	require.NoError(t, json.Unmarshal(processJob.Result, &created))

	fillID, err := r.EnqueueFill(created.TemplateID, []fill.OCRField{
		{Tag: "vinNumber", Value: "JTDKB20U887654321"},
		{Tag: "issueDate", Value: "01-01-2026"},
	})
	require.NoError(t, err)

	job := waitForJob(t, st, fillID)
	require.Equal(t, store.JobCompleted, job.Status)

	var res fillJobResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	assert.Equal(t, created.TemplateID, res.TemplateID)
	assert.Equal(t, 2, res.Stats.ReplacementsMade)

	payload, err := base64.StdEncoding.DecodeString(res.DocxBase64)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

func TestFillJobUnknownTemplate(t *testing.T) {
	r, _ := testRunner(t)

	_, err := r.EnqueueFill("no-such-template", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
