// Package harness drives reproducible retrieval checks against a disposable
// test collection before the live collections are put to use.
package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/loader"
	"github.com/flarexio/ragblade/vector"
)

var ErrHarnessFailed = errors.New("harness run failed")

type CaseResult struct {
	Name     string   `json:"name"`
	Query    string   `json:"query"`
	Passed   bool     `json:"passed"`
	Matched  int      `json:"matched"`
	TopScore float64  `json:"top_score"`
	Found    []string `json:"found,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type Report struct {
	Settings   string                  `json:"settings"`
	Collection string                  `json:"collection"`
	Ingested   []ragblade.IngestReport `json:"ingested"`
	Cases      []CaseResult            `json:"cases"`
	Passed     bool                    `json:"passed"`
}

// Run recreates the test collection, ingests the fixtures in order and
// evaluates every case. Case failures are reported, not returned; the
// error covers runs that could not be carried out.
func Run(ctx context.Context, svc ragblade.Service, s Settings) (Report, error) {
	log := zap.L().With(
		zap.String("action", "harness_run"),
		zap.String("settings", s.Name),
	)

	report := Report{
		Settings: s.Name,
	}

	ref := vector.CollectionRef{
		Name:   s.Collection,
		Domain: string(ragblade.DomainTest),
	}

	ref, err := svc.RecreateCollection(ctx, ref)
	if err != nil {
		if errors.Is(err, ragblade.ErrDomainMismatch) {
			return report, fmt.Errorf("%w: collection %s: %w", ErrInvalidSettings, s.Collection, err)
		}

		return report, err
	}

	report.Collection = ref.Name

	if s.Chunking != nil {
		ctx = ragblade.WithChunking(ctx, *s.Chunking)
	}

	for _, f := range s.Fixtures {
		doc, err := s.document(f)
		if err != nil {
			return report, err
		}

		ingested, err := svc.Ingest(ctx, doc, ref)
		report.Ingested = append(report.Ingested, ingested)
		if err != nil {
			return report, fmt.Errorf("fixture %s: %w", doc.ID, err)
		}

		if len(ingested.Failures) > 0 {
			return report, fmt.Errorf("fixture %s: %d chunks failed: %s",
				doc.ID, len(ingested.Failures), ingested.Failures[0].Error)
		}
	}

	report.Passed = true

	for _, c := range s.Cases {
		result := evaluate(ctx, svc, ref, c)
		if !result.Passed {
			report.Passed = false
			log.Warn("case failed",
				zap.String("case", result.Name),
				zap.Strings("found", result.Found),
				zap.String("error", result.Error),
			)
		}

		report.Cases = append(report.Cases, result)
	}

	log.Info("harness finished",
		zap.String("collection", report.Collection),
		zap.Int("fixtures", len(report.Ingested)),
		zap.Bool("passed", report.Passed),
	)

	return report, nil
}

func evaluate(ctx context.Context, svc ragblade.Service, ref vector.CollectionRef, c Case) CaseResult {
	result := CaseResult{
		Name:  c.Name,
		Query: c.Query,
	}

	qr, err := svc.Retrieve(ctx, c.Query, ref, c.TopK, c.Filters)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if len(qr.Hits) > 0 {
		result.TopScore = qr.Hits[0].Score
	}

	want := fmt.Sprint(c.Expect.Value)

	for _, hit := range qr.Hits {
		value, ok := field(hit, c.Expect.Field)
		if !ok {
			continue
		}

		got := fmt.Sprint(value)
		result.Found = append(result.Found, got)

		if got == want && hit.Score >= c.MinScore {
			result.Matched++
		}
	}

	result.Passed = result.Matched > 0
	return result
}

// field reads a payload path from a hit.
func field(hit ragblade.Hit, path string) (any, bool) {
	switch path {
	case ragblade.PayloadDocumentID:
		return hit.DocumentID, true
	case ragblade.PayloadChunkIndex:
		return hit.ChunkIndex, true
	case ragblade.PayloadSource:
		return hit.Source, hit.Source != ""
	case ragblade.PayloadOwner:
		return string(hit.Owner), hit.Owner != ""
	case ragblade.PayloadText:
		return hit.Text, true
	}

	key, ok := strings.CutPrefix(path, ragblade.PayloadMetadata+".")
	if !ok {
		return nil, false
	}

	var current any = hit.Metadata
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func (s Settings) document(f Fixture) (ragblade.Document, error) {
	doc := ragblade.Document{
		ID:       f.ID,
		Text:     f.Text,
		Owner:    s.Domain,
		Metadata: make(map[string]any),
	}

	if f.Path != "" {
		src, err := loader.Load(s.Resolve(f))
		if err != nil {
			return doc, err
		}

		doc.Source = f.Path
		doc.Text = src.Text

		for k, v := range src.Metadata {
			doc.Metadata[k] = v
		}
	}

	for k, v := range f.Metadata {
		doc.Metadata[k] = v
	}

	if _, ok := doc.Metadata["candidate_name"]; !ok {
		if name := candidateName(doc.Text); name != "" {
			doc.Metadata["candidate_name"] = name
		}
	}

	if doc.ID == "" {
		doc.ID = ragblade.DocumentID(doc.Source, doc.Text)
	}

	return doc, nil
}

// candidateName takes the first heading or line of a document.
func candidateName(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return line
		}
	}

	return ""
}

// Initialize runs every settings file and ensures the live personal and
// project collections only when all of them passed.
func Initialize(ctx context.Context, svc ragblade.Service, settings ...Settings) ([]Report, []vector.CollectionRef, error) {
	reports := make([]Report, 0, len(settings))

	var failed []string
	for _, s := range settings {
		report, err := Run(ctx, svc, s)
		reports = append(reports, report)
		if err != nil {
			return reports, nil, fmt.Errorf("%w: %s: %w", ErrHarnessFailed, s.Name, err)
		}

		if !report.Passed {
			failed = append(failed, s.Name)
		}
	}

	if len(failed) > 0 {
		return reports, nil, fmt.Errorf("%w: %s", ErrHarnessFailed, strings.Join(failed, ", "))
	}

	refs := make([]vector.CollectionRef, 0, 2)
	for _, domain := range []ragblade.Domain{ragblade.DomainPersonal, ragblade.DomainProject} {
		ref, err := svc.EnsureCollection(ctx, vector.CollectionRef{Domain: string(domain)})
		if err != nil {
			return reports, refs, err
		}

		refs = append(refs, ref)
	}

	zap.L().Info("collections initialized",
		zap.String("action", "harness_initialize"),
		zap.Int("settings", len(settings)),
	)

	return reports, refs, nil
}
