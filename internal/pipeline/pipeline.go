// Package pipeline wires the engine's components into the two document
// flows: template creation (extract, group, tag, rewrite) and template fill
// (map, match, fill, rewrite). Both are pure functions of their input bytes;
// the job runner in this package adds the asynchronous, status-persisting
// shell around them.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fieldmark/fieldmark/internal/docx"
	"github.com/fieldmark/fieldmark/internal/fill"
	"github.com/fieldmark/fieldmark/internal/grouper"
	"github.com/fieldmark/fieldmark/internal/tagger"
	"go.uber.org/zap"
)

// Options tune the pipeline.
type Options struct {
	Concurrency int // parallel tagger batches
	BatchSize   int // groups per tagger batch
}

// DetectedVariable is one variable found during template creation, in the
// shape the document_fields collaborator persists.
type DetectedVariable struct {
	FieldName     string          `json:"field_name"`
	FieldValue    string          `json:"field_value"`
	FieldTag      string          `json:"field_tag"`
	RunFormatting docx.Formatting `json:"run_formatting,omitempty"`
}

// TemplateResult is the outcome of the template creation path.
type TemplateResult struct {
	Docx        []byte             `json:"-"`
	Variables   []DetectedVariable `json:"variables"`
	TagMetadata map[string]string  `json:"tagMetadata"`
	Groups      int                `json:"groups"`
	Batches     int                `json:"batches"`
	FailedTasks int                `json:"failedBatches"`
}

// FillResult is the outcome of the template fill path.
type FillResult struct {
	Docx    []byte            `json:"-"`
	Stats   fill.Stats        `json:"stats"`
	Matches []fill.FieldMatch `json:"matches"`
}

// Pipeline owns the engine components.
type Pipeline struct {
	extractor *docx.Extractor
	grouper   *grouper.Grouper
	tagger    *tagger.Tagger
	matcher   *fill.Matcher
	filler    *fill.Filler
	opts      Options
	logger    *zap.Logger
}

// New assembles a pipeline. ai may be nil to disable semantic fill matching.
func New(tg *tagger.Tagger, ai fill.ChatClient, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 15
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 40
	}
	return &Pipeline{
		extractor: docx.NewExtractor(logger),
		grouper:   grouper.New(logger),
		tagger:    tg,
		matcher:   fill.NewMatcher(ai, logger),
		filler:    fill.NewFiller(logger),
		opts:      opts,
		logger:    logger,
	}
}

// CreateTemplate runs the template creation path over a DOCX payload and
// returns the tagged document plus the detected variables.
func (p *Pipeline) CreateTemplate(ctx context.Context, data []byte) (*TemplateResult, error) {
	xml, err := docx.ReadDocumentXML(data)
	if err != nil {
		return nil, err
	}
	ext, err := p.extractor.Extract(xml)
	if err != nil {
		return nil, err
	}

	groups := p.grouper.GroupDocument(ext)
	outputs, batches, failed := p.tagGroups(ctx, groups)

	result := &TemplateResult{
		TagMetadata: map[string]string{},
		Groups:      len(groups),
		Batches:     batches,
		FailedTasks: failed,
	}

	// Turn tagger output into node replacements: the first member node of a
	// tagged group carries the placeholder, the rest are emptied. First
	// change per node wins.
	replacements := map[int]string{}
	for i, g := range groups {
		out := outputs[i]
		vars := tagger.DetectVariables([]string{g.MergedText}, []string{out})
		if len(vars) == 0 {
			continue
		}
		v := vars[0]
		claimed := false
		for j, nodeIdx := range g.OriginalIndices {
			if _, taken := replacements[nodeIdx]; taken {
				continue
			}
			if !claimed && j == 0 {
				replacements[nodeIdx] = v.Tag
				claimed = true
			} else if claimed {
				replacements[nodeIdx] = ""
			}
		}
		if !claimed {
			continue
		}
		result.Variables = append(result.Variables, DetectedVariable{
			FieldName:     v.VariableName,
			FieldValue:    g.MergedText,
			FieldTag:      v.Tag,
			RunFormatting: g.Formatting,
		})
		result.TagMetadata[v.VariableName] = g.MergedText
	}

	newXML, err := docx.ApplyNodeReplacements(xml, ext.Nodes, replacements)
	if err != nil {
		return nil, err
	}
	out, err := docx.ReplaceDocumentXML(data, newXML)
	if err != nil {
		return nil, err
	}
	result.Docx = out

	p.logger.Info("template created",
		zap.Int("groups", len(groups)),
		zap.Int("variables", len(result.Variables)),
		zap.Int("failedBatches", failed))
	return result, nil
}

// tagGroups fans tagger batches out at fixed concurrency. A failed batch
// contributes zero changes; its groups fall back to their original text.
func (p *Pipeline) tagGroups(ctx context.Context, groups []grouper.Group) (outputs []string, batches, failed int) {
	outputs = make([]string, len(groups))
	for i, g := range groups {
		outputs[i] = g.MergedText
	}

	type batch struct{ start, end int }
	var work []batch
	for start := 0; start < len(groups); start += p.opts.BatchSize {
		end := start + p.opts.BatchSize
		if end > len(groups) {
			end = len(groups)
		}
		work = append(work, batch{start, end})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, p.opts.Concurrency)
	)
	for _, b := range work {
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			inputs := make([]tagger.Input, 0, b.end-b.start)
			for _, g := range groups[b.start:b.end] {
				inputs = append(inputs, tagger.Input{
					Text:       g.MergedText,
					Label:      g.PrecedingLabel,
					Formatting: g.Formatting,
				})
			}
			res, err := p.tagger.TagTexts(ctx, inputs)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				p.logger.Warn("tagger batch degraded",
					zap.Int("start", b.start), zap.Int("end", b.end), zap.Error(err))
				return
			}
			copy(outputs[b.start:b.end], res)
		}(b)
	}
	wg.Wait()
	return outputs, len(work), failed
}

// FillTemplate runs the fill path: resolve tags to runs, match the OCR
// fields, rewrite the matched runs and report the rest.
func (p *Pipeline) FillTemplate(ctx context.Context, template []byte, tagMetadata map[string]string, fields []fill.OCRField) (*FillResult, error) {
	xml, err := docx.ReadDocumentXML(template)
	if err != nil {
		return nil, err
	}
	ext, err := p.extractor.Extract(xml)
	if err != nil {
		return nil, err
	}

	mappings := fill.BuildTagMap(ext)
	tags := fill.TemplateTags(mappings)
	match := p.matcher.Match(ctx, tags, tagMetadata, fields)

	newXML, stats, err := p.filler.Fill(xml, ext, mappings, match)
	if err != nil {
		return nil, err
	}
	out, err := docx.ReplaceDocumentXML(template, newXML)
	if err != nil {
		return nil, err
	}
	matches := match.Matches
	if matches == nil {
		matches = []fill.FieldMatch{}
	}
	return &FillResult{Docx: out, Stats: stats, Matches: matches}, nil
}

// ResultJSON renders a result for job persistence, without the payload.
func ResultJSON(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job result: %w", err)
	}
	return data, nil
}
