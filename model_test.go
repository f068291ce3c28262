package ragblade

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedding"
)

func TestConfigYAMLUnmarshal(t *testing.T) {
	assert := assert.New(t)

	input := `embedding:
  provider: openai
  model: text-embedding-3-small
  dimensions: 384
cache:
  driver: sqlite
  sqlite:
    path: /tmp/ragblade/embeddings.db
  maxAge: 720h
  pruneInterval: 1h
vector:
  driver: qdrant
  metric: cosine
  qdrant:
    host: localhost
    port: 6333
collections:
  personal: personal_data
  project: project_data
  test: test_data
chunking:
  maxChunkSize: 800
  overlap: 80
  splitter: sentence
ingest:
  batchSize: 32
  concurrency: 8
  timeout: 5m`

	var cfg Config
	if err := yaml.Unmarshal([]byte(input), &cfg); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(embedding.ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(384, cfg.Embedding.Dimensions)
	assert.Equal(embedding.CacheSQLite, cfg.Cache.Driver)
	assert.Equal("/tmp/ragblade/embeddings.db", cfg.Cache.SQLite.Path)
	assert.Equal(720*time.Hour, cfg.Cache.MaxAge.Duration())
	assert.Equal(6333, cfg.Vector.Qdrant.Port)
	assert.Equal(chunker.SplitterSentence, cfg.Chunking.Splitter)
	assert.Equal(800, cfg.Chunking.MaxChunkSize)
	assert.Equal(32, cfg.Ingest.BatchSize)
	assert.Equal(5*time.Minute, cfg.Ingest.Timeout.Duration())

	name, err := cfg.Collections.Name(DomainProject)
	assert.NoError(err)
	assert.Equal("project_data", name)
}

func TestDurationJSON(t *testing.T) {
	assert := assert.New(t)

	bs, err := json.Marshal(Duration(90 * time.Second))
	assert.NoError(err)
	assert.Equal(`"1m30s"`, string(bs))

	var d Duration
	assert.NoError(json.Unmarshal([]byte(`"250ms"`), &d))
	assert.Equal(250*time.Millisecond, d.Duration())
}

func TestParseDomain(t *testing.T) {
	assert := assert.New(t)

	d, err := ParseDomain(" Personal ")
	assert.NoError(err)
	assert.Equal(DomainPersonal, d)

	_, err = ParseDomain("company")
	assert.ErrorIs(err, ErrUnknownDomain)

	_, err = CollectionsConfig{Personal: "personal_data"}.Name(DomainProject)
	assert.ErrorIs(err, ErrCollectionNotSet)
}

func TestPointIDIsDeterministic(t *testing.T) {
	assert := assert.New(t)

	a := PointID("cv-mark", 0)
	assert.Equal(a, PointID("cv-mark", 0))
	assert.NotEqual(a, PointID("cv-mark", 1))
	assert.NotEqual(a, PointID("cv-anna", 0))
	assert.Len(a, 36)

	assert.Equal(DocumentID("cv.md", "x"), DocumentID("cv.md", "y"))
	assert.NotEqual(DocumentID("", "x"), DocumentID("", "y"))
}
