package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/embedding/hash"
	"github.com/flarexio/ragblade/persistence/chromem"
	"github.com/flarexio/ragblade/vector"
)

func TestLoadSettings(t *testing.T) {
	assert := assert.New(t)

	s, err := LoadSettings("testdata/personal.json")
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal("personal", s.Name)
	assert.Equal(ragblade.DomainPersonal, s.Domain)
	assert.Equal(200, s.Chunking.MaxChunkSize)
	assert.Equal(chunker.SplitterSentence, s.Chunking.Splitter)
	assert.Len(s.Fixtures, 2)
	assert.Equal("testdata/cv_mark.md", s.Resolve(s.Fixtures[0]))
	assert.Equal("SENIOR", s.Fixtures[0].Metadata["level"])

	if assert.Len(s.Cases, 2) {
		assert.Equal(1, s.Cases[0].TopK)
		assert.Equal([]any{"JUNIOR"}, s.Cases[1].Filters["metadata.level"].Values)
	}
}

func TestLoadLegacySettings(t *testing.T) {
	assert := assert.New(t)

	s, err := LoadSettings("testdata/legacy.json")
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal("legacy", s.Name)

	if assert.Len(s.Cases, 2) {
		semantic, filtered := s.Cases[0], s.Cases[1]

		assert.Equal("semantic", semantic.Name)
		assert.Equal(15, semantic.TopK)
		assert.Equal(CandidateField, semantic.Expect.Field)
		assert.Equal("Mark Chen", semantic.Expect.Value)
		assert.Empty(semantic.Filters)

		assert.Equal("filtered", filtered.Name)
		assert.Equal(3, filtered.TopK)
		assert.Contains(filtered.Filters, "metadata.level")
		assert.Equal("Anna Berg", filtered.Expect.Value)
	}

	if assert.NotNil(s.Chunking) {
		assert.Equal(500, s.Chunking.MaxChunkSize)
		assert.Equal(50, s.Chunking.Overlap)
		assert.Equal(chunker.SplitterSentence, s.Chunking.Splitter)
	}

	if assert.Len(s.Fixtures, 2) {
		assert.Equal("testdata/cv_anna.md", s.Resolve(s.Fixtures[1]))
	}
}

func TestParseSettingsErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := ParseSettings([]byte(`{"domain": "personal"}`))
	assert.ErrorIs(err, ErrNoCases)

	_, err = ParseSettings([]byte(`{"domain": "company", "cases": [{"query": "q", "expect": {"field": "f", "value": "v"}}]}`))
	assert.ErrorIs(err, ErrInvalidSettings)
	assert.ErrorIs(err, ragblade.ErrUnknownDomain)

	_, err = ParseSettings([]byte(`{"cases": [{"query": " ", "expect": {"field": "f", "value": "v"}}]}`))
	assert.ErrorIs(err, ErrInvalidSettings)

	_, err = ParseSettings([]byte(`{"chunking": {"max_chunk_size": 10, "overlap": 10, "splitter": "fixed"},
		"cases": [{"query": "q", "expect": {"field": "f", "value": "v"}}]}`))
	assert.ErrorIs(err, chunker.ErrInvalidPolicy)

	_, err = ParseSettings([]byte(`{`))
	assert.ErrorIs(err, ErrInvalidSettings)
}

func TestFixtureUnmarshal(t *testing.T) {
	assert := assert.New(t)

	s, err := ParseSettings([]byte(`{
		"fixtures": ["a.md", {"id": "inline", "text": "Anna Berg writes SQL."}],
		"cases": [{"query": "q", "expect": {"field": "f", "value": "v"}}]
	}`))
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(Fixture{Path: "a.md"}, s.Fixtures[0])
	assert.Equal("inline", s.Fixtures[1].ID)
	assert.Equal("a.md", s.Resolve(s.Fixtures[0]))
}

func TestCandidateName(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("Mark Chen", candidateName("\n\n# Mark Chen\n\nSenior engineer."))
	assert.Equal("Anna Berg", candidateName("Anna Berg\nAnalyst"))
	assert.Equal("", candidateName(" \n "))
}

type harnessTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    vector.Store
	svc      ragblade.Service
	settings Settings
}

func (suite *harnessTestSuite) SetupTest() {
	suite.ctx = context.Background()

	store, err := chromem.NewChromemVectorStore(vector.ChromemConfig{})
	if err != nil {
		suite.FailNow(err.Error())
	}

	cache := embedding.NewCache(embedding.NewMemoryStore())

	svc, err := ragblade.NewService(suite.ctx, ragblade.DefaultConfig(), store, hash.NewProvider(256), cache)
	if err != nil {
		suite.FailNow(err.Error())
	}

	settings, err := LoadSettings("testdata/personal.json")
	if err != nil {
		suite.FailNow(err.Error())
	}

	suite.store = store
	suite.svc = svc
	suite.settings = settings
}

func (suite *harnessTestSuite) TearDownTest() {
	suite.svc.Close()
}

func (suite *harnessTestSuite) TestRun() {
	report, err := Run(suite.ctx, suite.svc, suite.settings)
	suite.NoError(err)

	suite.Equal("test_data", report.Collection)
	suite.Len(report.Ingested, 2)
	suite.True(report.Passed)

	for _, c := range report.Cases {
		suite.True(c.Passed, c.Name)
		suite.Positive(c.Matched)
	}

	names, err := suite.store.ListCollections(suite.ctx)
	suite.NoError(err)
	suite.Equal([]string{"test_data"}, names)
}

func (suite *harnessTestSuite) TestRunIsReproducible() {
	first, err := Run(suite.ctx, suite.svc, suite.settings)
	suite.NoError(err)

	second, err := Run(suite.ctx, suite.svc, suite.settings)
	suite.NoError(err)

	suite.Equal(first.Cases, second.Cases)
	suite.Equal(first.Passed, second.Passed)

	for i := range first.Ingested {
		suite.Equal(first.Ingested[i].Upserted, second.Ingested[i].Upserted)
	}

	info, err := suite.store.CollectionInfo(suite.ctx, "test_data")
	suite.NoError(err)
	suite.Equal(len(second.Ingested[0].Upserted)+len(second.Ingested[1].Upserted), info.Count)
}

func (suite *harnessTestSuite) TestRunReportsFailedCase() {
	s := suite.settings
	s.Cases = append([]Case(nil), s.Cases...)
	s.Cases[0].Expect.Value = "Nobody"

	report, err := Run(suite.ctx, suite.svc, s)
	suite.NoError(err)
	suite.False(report.Passed)
	suite.False(report.Cases[0].Passed)
	suite.Contains(report.Cases[0].Found, "Mark Chen")
	suite.True(report.Cases[1].Passed)
}

func (suite *harnessTestSuite) TestRunMissingFixture() {
	s := suite.settings
	s.Fixtures = []Fixture{{Path: "missing.md"}}

	_, err := Run(suite.ctx, suite.svc, s)
	suite.Error(err)
}

func (suite *harnessTestSuite) TestRunRefusesLiveCollection() {
	personal, err := suite.svc.EnsureCollection(suite.ctx, vector.CollectionRef{Domain: string(ragblade.DomainPersonal)})
	suite.NoError(err)

	ingested, err := suite.svc.Ingest(suite.ctx, ragblade.Document{
		ID:   "real-user-cv",
		Text: "Mark Chen is a senior backend engineer.",
	}, personal)
	suite.NoError(err)

	for _, name := range []string{"personal_data", "project_data"} {
		s := suite.settings
		s.Collection = name

		_, err := Run(suite.ctx, suite.svc, s)
		suite.ErrorIs(err, ErrInvalidSettings, name)
		suite.ErrorIs(err, ragblade.ErrDomainMismatch, name)
	}

	info, err := suite.store.CollectionInfo(suite.ctx, "personal_data")
	suite.NoError(err)
	suite.Equal(len(ingested.Upserted), info.Count)

	s := suite.settings
	s.Collection = "scratch"

	report, err := Run(suite.ctx, suite.svc, s)
	suite.NoError(err)
	suite.Equal("scratch", report.Collection)
}

func (suite *harnessTestSuite) TestInitialize() {
	reports, refs, err := Initialize(suite.ctx, suite.svc, suite.settings)
	suite.NoError(err)
	suite.Len(reports, 1)

	if suite.Len(refs, 2) {
		suite.Equal("personal_data", refs[0].Name)
		suite.Equal("project_data", refs[1].Name)
	}

	names, err := suite.store.ListCollections(suite.ctx)
	suite.NoError(err)
	suite.ElementsMatch([]string{"personal_data", "project_data", "test_data"}, names)
}

func (suite *harnessTestSuite) TestInitializeWithFailure() {
	failing := suite.settings
	failing.Name = "failing"
	failing.Cases = []Case{{
		Name:   "nobody",
		Query:  "backend engineer",
		TopK:   1,
		Expect: Expectation{Field: CandidateField, Value: "Nobody"},
	}}

	reports, refs, err := Initialize(suite.ctx, suite.svc, suite.settings, failing)
	suite.ErrorIs(err, ErrHarnessFailed)
	suite.Len(reports, 2)
	suite.Empty(refs)

	names, err := suite.store.ListCollections(suite.ctx)
	suite.NoError(err)
	suite.Equal([]string{"test_data"}, names)
}

func TestHarnessTestSuite(t *testing.T) {
	suite.Run(t, new(harnessTestSuite))
}
