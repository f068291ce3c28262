package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/vector"
)

var (
	ErrInvalidSettings = errors.New("invalid harness settings")
	ErrNoCases         = errors.New("no test cases")
)

// CandidateField is the payload path the legacy settings expect results on.
const CandidateField = "metadata.candidate_name"

// Settings describe one reproducible evaluation run.
//
//	{
//	  "name": "personal",
//	  "domain": "personal",
//	  "chunking": {"max_chunk_size": 500, "overlap": 50, "splitter": "sentence"},
//	  "fixtures": ["cv_mark.md", {"id": "inline", "text": "...", "metadata": {"candidate_name": "Anna Berg"}}],
//	  "cases": [{"name": "semantic", "query": "...", "top_k": 15,
//	             "expect": {"field": "metadata.candidate_name", "value": "Mark Chen"}}]
//	}
type Settings struct {
	Name       string          `json:"name"`
	Domain     ragblade.Domain `json:"domain"`
	Collection string          `json:"collection,omitempty"`
	Chunking   *chunker.Policy `json:"chunking,omitempty"`
	Fixtures   []Fixture       `json:"fixtures"`
	Cases      []Case          `json:"cases"`

	dir string
}

// Fixture is a document ingested before the cases run, either a file
// relative to the settings file or an inline text.
type Fixture struct {
	ID       string         `json:"id,omitempty"`
	Path     string         `json:"path,omitempty"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (f *Fixture) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		*f = Fixture{Path: path}
		return nil
	}

	type fixture Fixture

	var raw fixture
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*f = Fixture(raw)
	return nil
}

type Case struct {
	Name     string        `json:"name"`
	Query    string        `json:"query"`
	Filters  vector.Filter `json:"filters,omitempty"`
	TopK     int           `json:"top_k,omitempty"`
	MinScore float64       `json:"min_score,omitempty"`
	Expect   Expectation   `json:"expect"`
}

// Expectation holds when any hit carries Value at the payload path Field.
type Expectation struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// legacySettings are the flat keys of the first settings format.
type legacySettings struct {
	SemanticQuery    string        `json:"semantic_search_query"`
	Filters          vector.Filter `json:"search_filters"`
	FilteredQuery    string        `json:"filterd_search_query"`
	ExpectedSemantic string        `json:"expected_semantic_search_name"`
	ExpectedFiltered string        `json:"expected_filtered_search_name"`

	CVSemanticQuery    string        `json:"cv_semantic_search_query"`
	CVFilters          vector.Filter `json:"cv_search_filters"`
	CVFilteredQuery    string        `json:"cv_filterd_search_query"`
	ExpectedCVSemantic string        `json:"expected_cv_semantic_search_name"`
	ExpectedCVFiltered string        `json:"expected_cv_filtered_search_name"`

	ChunkingMethod string   `json:"chunking_method"`
	ChunkSize      int      `json:"chunk_size"`
	ChunkOverlap   int      `json:"chunk_overlap"`
	DataFolder     string   `json:"test_data_folder"`
	CVs            []string `json:"cv_s"`
}

// LoadSettings reads a settings file. Fixture paths resolve against the
// directory of the file.
func LoadSettings(path string) (Settings, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	s, err := ParseSettings(bs)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}

	s.dir = filepath.Dir(path)

	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return s, nil
}

func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	var legacy legacySettings
	if err := json.Unmarshal(data, &legacy); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	legacy.apply(&s)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

func (s Settings) Validate() error {
	if s.Domain != "" {
		if _, err := ragblade.ParseDomain(string(s.Domain)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
	}

	if s.Chunking != nil {
		if err := s.Chunking.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
	}

	if len(s.Cases) == 0 {
		return ErrNoCases
	}

	for i, c := range s.Cases {
		if strings.TrimSpace(c.Query) == "" {
			return fmt.Errorf("%w: case %d has no query", ErrInvalidSettings, i)
		}

		if c.Expect.Field == "" || c.Expect.Value == nil {
			return fmt.Errorf("%w: case %d has no expectation", ErrInvalidSettings, i)
		}

		if err := c.Filters.Validate(); err != nil {
			return fmt.Errorf("%w: case %d: %w", ErrInvalidSettings, i, err)
		}
	}

	for i, f := range s.Fixtures {
		if f.Path == "" && strings.TrimSpace(f.Text) == "" {
			return fmt.Errorf("%w: fixture %d is empty", ErrInvalidSettings, i)
		}
	}

	return nil
}

// Resolve returns the fixture path relative to the settings file.
func (s Settings) Resolve(f Fixture) string {
	if f.Path == "" || filepath.IsAbs(f.Path) || s.dir == "" {
		return f.Path
	}

	return filepath.Join(s.dir, f.Path)
}

func (legacy legacySettings) apply(s *Settings) {
	addCase := func(name, query, expected string, filters vector.Filter, topK int) {
		if query == "" || expected == "" {
			return
		}

		s.Cases = append(s.Cases, Case{
			Name:    name,
			Query:   query,
			Filters: metadataFilters(filters),
			TopK:    topK,
			Expect:  Expectation{Field: CandidateField, Value: expected},
		})
	}

	addCase("semantic", legacy.SemanticQuery, legacy.ExpectedSemantic, nil, 15)
	addCase("filtered", legacy.FilteredQuery, legacy.ExpectedFiltered, legacy.Filters, 3)
	addCase("cv_semantic", legacy.CVSemanticQuery, legacy.ExpectedCVSemantic, nil, 15)
	addCase("cv_filtered", legacy.CVFilteredQuery, legacy.ExpectedCVFiltered, legacy.CVFilters, 3)

	if s.Chunking == nil && legacy.ChunkSize > 0 {
		splitter := chunker.SplitterSentence
		switch legacy.ChunkingMethod {
		case "fixed", "words":
			splitter = chunker.SplitterFixed
		case "paragraphs":
			splitter = chunker.SplitterParagraph
		}

		s.Chunking = &chunker.Policy{
			MaxChunkSize: legacy.ChunkSize,
			Overlap:      legacy.ChunkOverlap,
			Splitter:     splitter,
		}
	}

	for _, cv := range legacy.CVs {
		s.Fixtures = append(s.Fixtures, Fixture{
			Path: filepath.Join(legacy.DataFolder, cv),
		})
	}
}

var payloadFields = map[string]bool{
	ragblade.PayloadDocumentID: true,
	ragblade.PayloadChunkIndex: true,
	ragblade.PayloadSource:     true,
	ragblade.PayloadOwner:      true,
	ragblade.PayloadModel:      true,
}

// metadataFilters moves bare legacy field names under the metadata payload.
func metadataFilters(filters vector.Filter) vector.Filter {
	if len(filters) == 0 {
		return nil
	}

	out := make(vector.Filter, len(filters))
	for key, cond := range filters {
		if !strings.Contains(key, ".") && !payloadFields[key] {
			key = ragblade.PayloadMetadata + "." + key
		}

		out[key] = cond
	}

	return out
}
