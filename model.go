package ragblade

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/vector"
)

var (
	ErrUnknownDomain      = errors.New("unknown domain")
	ErrCollectionNotSet   = errors.New("collection not set")
	ErrCollectionMismatch = errors.New("collection mismatch")
	ErrDomainMismatch     = errors.New("collection belongs to another domain")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrEmptyQuery         = errors.New("empty query")
	ErrIngestFailed       = errors.New("ingest failed")
)

type ContextKey string

const (
	CollectionKey ContextKey = "collection"
	ChunkingKey   ContextKey = "chunking"
	RequestID     ContextKey = "request_id"
)

type Domain string

const (
	DomainPersonal Domain = "personal"
	DomainProject  Domain = "project"
	DomainTest     Domain = "test"
)

func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DomainPersonal, DomainProject, DomainTest:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
	}
}

type Config struct {
	Embedding   embedding.Config  `yaml:"embedding"`
	Cache       CacheConfig       `yaml:"cache"`
	Vector      vector.Config     `yaml:"vector"`
	Collections CollectionsConfig `yaml:"collections"`
	Chunking    chunker.Policy    `yaml:"chunking"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Harness     HarnessConfig     `yaml:"harness"`
}

func DefaultConfig() Config {
	return Config{
		Embedding: embedding.Config{
			Provider:   embedding.ProviderHash,
			Dimensions: 384,
		},
		Cache: CacheConfig{
			CacheConfig: embedding.CacheConfig{
				Driver: embedding.CacheMemory,
			},
		},
		Vector: vector.Config{
			Driver: "chromem",
			Metric: string(vector.MetricCosine),
		},
		Collections: CollectionsConfig{
			Personal: "personal_data",
			Project:  "project_data",
			Test:     "test_data",
		},
		Chunking: chunker.DefaultPolicy(),
		Ingest: IngestConfig{
			BatchSize:   DefaultBatchSize,
			Concurrency: DefaultConcurrency,
		},
	}
}

type CacheConfig struct {
	embedding.CacheConfig `yaml:",inline"`

	// MaxAge drops entries not accessed for this long; zero keeps them.
	MaxAge        Duration `yaml:"maxAge"`
	PruneInterval Duration `yaml:"pruneInterval"`
}

type CollectionsConfig struct {
	Personal string `yaml:"personal"`
	Project  string `yaml:"project"`
	Test     string `yaml:"test"`
}

func (cfg CollectionsConfig) Name(domain Domain) (string, error) {
	var name string
	switch domain {
	case DomainPersonal:
		name = cfg.Personal
	case DomainProject:
		name = cfg.Project
	case DomainTest:
		name = cfg.Test
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}

	if name == "" {
		return "", fmt.Errorf("%w: no collection configured for %s", ErrCollectionNotSet, domain)
	}

	return name, nil
}

const (
	DefaultBatchSize   = 64
	DefaultConcurrency = 4
	DefaultTopK        = 5
)

type IngestConfig struct {
	BatchSize   int      `yaml:"batchSize"`
	Concurrency int      `yaml:"concurrency"`
	Timeout     Duration `yaml:"timeout"`
}

type HarnessConfig struct {
	PersonalSettings string `yaml:"personalSettings"`
	ProjectSettings  string `yaml:"projectSettings"`
}

type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

type Document struct {
	ID       string         `json:"id"`
	Source   string         `json:"source,omitempty"`
	Text     string         `json:"text"`
	Owner    Domain         `json:"owner,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DocumentID derives a stable id from the source, or from the text when
// the document has no source.
func DocumentID(source string, text string) string {
	key := source
	if key == "" {
		key = text
	}

	return "doc_" + embedding.ContentHash(key)[:16]
}

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/flarexio/ragblade/chunks"))

// PointID is the deterministic point id of a chunk, so re-ingesting a
// document overwrites its points instead of duplicating them.
func PointID(documentID string, chunkIndex int) string {
	name := fmt.Sprintf("%s#%d", documentID, chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

const (
	PayloadDocumentID  = "document_id"
	PayloadChunkIndex  = "chunk_index"
	PayloadStart       = "start"
	PayloadEnd         = "end"
	PayloadText        = "text"
	PayloadContentHash = "content_hash"
	PayloadModel       = "model"
	PayloadSource      = "source"
	PayloadOwner       = "owner"
	PayloadCollection  = "collection"
	PayloadMetadata    = "metadata"
)

type Hit struct {
	PointID    string         `json:"point_id"`
	Score      float64        `json:"score"`
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Start      int            `json:"start"`
	End        int            `json:"end"`
	Text       string         `json:"text"`
	Source     string         `json:"source,omitempty"`
	Owner      Domain         `json:"owner,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type QueryResult struct {
	Collection string `json:"collection"`
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	Hits       []Hit  `json:"hits"`
}

type FailureStage string

const (
	StageEmbed  FailureStage = "embed"
	StageUpsert FailureStage = "upsert"
)

type ChunkFailure struct {
	ChunkIndex int          `json:"chunk_index"`
	PointID    string       `json:"point_id"`
	Stage      FailureStage `json:"stage"`
	Error      string       `json:"error"`

	err error
}

// Cause returns the underlying error; it does not survive serialization.
func (f ChunkFailure) Cause() error {
	return f.err
}

type IngestReport struct {
	DocumentID   string         `json:"document_id"`
	Collection   string         `json:"collection"`
	Chunks       int            `json:"chunks"`
	Upserted     []string       `json:"upserted"`
	Failures     []ChunkFailure `json:"failures,omitempty"`
	CacheHits    int            `json:"cache_hits"`
	CacheMisses  int            `json:"cache_misses"`
	ForcedSplits int            `json:"forced_splits"`
	Canceled     bool           `json:"canceled,omitempty"`
}

// FailedChunks lists the chunk indices the caller may retry.
func (r IngestReport) FailedChunks() []int {
	indices := make([]int, len(r.Failures))
	for i, f := range r.Failures {
		indices[i] = f.ChunkIndex
	}

	return indices
}
