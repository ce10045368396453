package pipeline

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/fieldmark/fieldmark/internal/fill"
	"github.com/fieldmark/fieldmark/internal/store"
	"go.uber.org/zap"
)

// Runner executes pipeline work as detached background jobs, reporting
// progress through persisted status transitions instead of holding a
// connection open. Multi-batch LLM work routinely outlives request
// timeouts, so callers poll the job instead of blocking. Cancellation is
// "mark failed, ignore late completion": a job that loses the race just has
// its final write rejected by the state it finds.
type Runner struct {
	pipeline *Pipeline
	store    *store.Store
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(p *Pipeline, st *store.Store, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Runner{pipeline: p, store: st, timeout: timeout, logger: logger}
}

// processJobResult is what a completed template-creation job persists.
type processJobResult struct {
	DocumentID  string             `json:"documentId"`
	TemplateID  string             `json:"templateId"`
	Variables   []DetectedVariable `json:"variables"`
	TagMetadata map[string]string  `json:"tagMetadata"`
	FailedTasks int                `json:"failedBatches"`
}

// fillJobResult is what a completed fill job persists. The filled document
// travels base64-encoded inside the result row.
type fillJobResult struct {
	TemplateID string            `json:"templateId"`
	DocxBase64 string            `json:"docxBase64"`
	Stats      fill.Stats        `json:"stats"`
	Matches    []fill.FieldMatch `json:"matches"`
}

// EnqueueProcess stores the upload and starts the template-creation job.
func (r *Runner) EnqueueProcess(name string, data []byte) (string, error) {
	docID, err := r.store.CreateDocument(name, data)
	if err != nil {
		return "", err
	}
	job, err := r.store.CreateJob("process")
	if err != nil {
		return "", err
	}

	go r.run(job.ID, func(ctx context.Context) (any, error) {
		res, err := r.pipeline.CreateTemplate(ctx, data)
		if err != nil {
			return nil, err
		}
		if err := r.store.SetDocumentTagged(docID, res.Docx); err != nil {
			return nil, err
		}
		fields := make([]store.Field, 0, len(res.Variables))
		for _, v := range res.Variables {
			formatting := ""
			if !v.RunFormatting.IsZero() {
				if raw, err := ResultJSON(v.RunFormatting); err == nil {
					formatting = string(raw)
				}
			}
			fields = append(fields, store.Field{
				FieldName:     v.FieldName,
				FieldValue:    v.FieldValue,
				FieldTag:      v.FieldTag,
				RunFormatting: formatting,
			})
		}
		if err := r.store.ReplaceFields(docID, fields); err != nil {
			return nil, err
		}
		templateID, err := r.store.CreateTemplate(name, res.Docx, res.TagMetadata)
		if err != nil {
			return nil, err
		}
		return processJobResult{
			DocumentID:  docID,
			TemplateID:  templateID,
			Variables:   res.Variables,
			TagMetadata: res.TagMetadata,
			FailedTasks: res.FailedTasks,
		}, nil
	})
	return job.ID, nil
}

// EnqueueFill starts a fill job against a stored template.
func (r *Runner) EnqueueFill(templateID string, fields []fill.OCRField) (string, error) {
	tmpl, err := r.store.GetTemplate(templateID)
	if err != nil {
		return "", err
	}
	data, err := r.store.GetTemplateData(templateID)
	if err != nil {
		return "", err
	}
	job, err := r.store.CreateJob("fill")
	if err != nil {
		return "", err
	}

	go r.run(job.ID, func(ctx context.Context) (any, error) {
		res, err := r.pipeline.FillTemplate(ctx, data, tmpl.TagMetadata, fields)
		if err != nil {
			return nil, err
		}
		return fillJobResult{
			TemplateID: templateID,
			DocxBase64: base64.StdEncoding.EncodeToString(res.Docx),
			Stats:      res.Stats,
			Matches:    res.Matches,
		}, nil
	})
	return job.ID, nil
}

// run drives one job through the state machine.
func (r *Runner) run(jobID string, fn func(ctx context.Context) (any, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.UpdateJobStatus(jobID, store.JobProcessing, ""); err != nil {
		r.logger.Error("failed to mark job processing", zap.String("job", jobID), zap.Error(err))
		return
	}

	result, err := fn(ctx)
	if err != nil {
		r.logger.Error("job failed", zap.String("job", jobID), zap.Error(err))
		if uerr := r.store.UpdateJobStatus(jobID, store.JobFailed, err.Error()); uerr != nil {
			r.logger.Error("failed to mark job failed", zap.String("job", jobID), zap.Error(uerr))
		}
		return
	}

	if err := r.store.SetJobResult(jobID, result); err != nil {
		r.logger.Error("failed to store job result", zap.String("job", jobID), zap.Error(err))
	}
	if err := r.store.UpdateJobStatus(jobID, store.JobCompleted, ""); err != nil {
		r.logger.Error("failed to mark job completed", zap.String("job", jobID), zap.Error(err))
	}
	r.logger.Info("job completed", zap.String("job", jobID))
}
