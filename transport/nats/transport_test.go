package nats

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/embedding/hash"
	"github.com/flarexio/ragblade/persistence/chromem"
	"github.com/flarexio/ragblade/vector"
)

func TestErrorHeaders(t *testing.T) {
	assert := assert.New(t)

	msg := nats.NewMsg("edges.test.ragblade.retrieve")
	assert.NoError(Error(msg))

	msg.Header.Set(micro.ErrorCodeHeader, "503")
	msg.Header.Set(micro.ErrorHeader, "store unavailable")

	err := Error(msg)
	assert.ErrorIs(err, ErrRemote)
	assert.True(vector.IsTransient(err))
	assert.Contains(err.Error(), "store unavailable")

	msg.Header.Set(micro.ErrorCodeHeader, "417")
	err = Error(msg)
	assert.ErrorIs(err, ErrRemote)
	assert.False(vector.IsTransient(err))

	msg.Header.Set(micro.ErrorCodeHeader, "409")
	msg.Header.Set(micro.ErrorHeader, "collection schema mismatch: personal_data")
	err = Error(msg)
	assert.ErrorIs(err, ErrRemote)
	assert.ErrorIs(err, vector.ErrSchemaMismatch)
	assert.ErrorIs(err, vector.ErrFatal)

	msg.Header.Set(micro.ErrorCodeHeader, "404")
	err = Error(msg)
	assert.ErrorIs(err, vector.ErrCollectionNotFound)
	assert.False(vector.IsTransient(err))

	assert.Error(Error(nil))
}

func TestCode(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("503", Code(vector.Transient("upsert", errors.New("timeout"))))
	assert.Equal("400", Code(ragblade.ErrEmptyQuery))
	assert.Equal("400", Code(ragblade.ErrCollectionNotSet))
	assert.Equal("400", Code(ragblade.ErrDomainMismatch))
	assert.Equal("404", Code(vector.Fatal("search", vector.ErrCollectionNotFound)))
	assert.Equal("409", Code(vector.Fatal("ensure", vector.ErrSchemaMismatch)))
	assert.Equal("417", Code(vector.Fatal("upsert", vector.ErrDimensionMismatch)))
}

// natsTransportTestSuite runs the service behind a micro service and talks
// to it through the proxy. It needs a NATS server at NATS_URL.
type natsTransportTestSuite struct {
	suite.Suite
	nc    *nats.Conn
	srv   micro.Service
	svc   ragblade.Service
	proxy ragblade.Service
}

func (suite *natsTransportTestSuite) SetupSuite() {
	url := os.Getenv("NATS_URL")
	if url == "" {
		suite.T().Skip("NATS_URL not set")
	}

	nc, err := nats.Connect(url, nats.Name("RAGBlade Transport Test"))
	if err != nil {
		suite.T().Skip(err.Error())
	}

	store, err := chromem.NewChromemVectorStore(vector.ChromemConfig{})
	if err != nil {
		suite.FailNow(err.Error())
	}

	cache := embedding.NewCache(embedding.NewMemoryStore())

	svc, err := ragblade.NewService(context.Background(), ragblade.DefaultConfig(), store, hash.NewProvider(64), cache)
	if err != nil {
		suite.FailNow(err.Error())
	}

	srv, err := micro.AddService(nc, micro.Config{
		Name:    "ragblade",
		Version: "1.0.0",
	})
	if err != nil {
		suite.FailNow(err.Error())
	}

	topic := "edges.test.ragblade"
	if err := AddEndpoints(srv.AddGroup(topic), ragblade.MakeEndpoints(svc)); err != nil {
		suite.FailNow(err.Error())
	}

	var proxy ragblade.Service
	proxy = ragblade.ProxyMiddleware(MakeEndpoints(nc, topic))(proxy)

	suite.nc = nc
	suite.srv = srv
	suite.svc = svc
	suite.proxy = proxy
}

func (suite *natsTransportTestSuite) TearDownSuite() {
	if suite.srv != nil {
		suite.srv.Stop()
	}

	if suite.svc != nil {
		suite.svc.Close()
	}

	if suite.nc != nil {
		suite.nc.Drain()
	}
}

func (suite *natsTransportTestSuite) TestRoundTrip() {
	ctx := context.Background()

	ref, err := suite.proxy.EnsureCollection(ctx, vector.CollectionRef{Domain: "project"})
	suite.NoError(err)
	suite.Equal("project_data", ref.Name)

	ctx = ragblade.WithCollection(ctx, ref)

	report, err := suite.proxy.Ingest(ctx, ragblade.Document{
		ID:   "atlas",
		Text: "Project Atlas schedules delivery trucks across Europe.",
	}, vector.CollectionRef{})
	suite.NoError(err)
	suite.Equal("project_data", report.Collection)

	result, err := suite.proxy.Retrieve(ctx, "delivery trucks", vector.CollectionRef{}, 3, nil)
	suite.NoError(err)
	if suite.NotEmpty(result.Hits) {
		suite.Equal("atlas", result.Hits[0].DocumentID)
	}

	infos, err := suite.proxy.ListCollections(ctx)
	suite.NoError(err)
	suite.NotEmpty(infos)

	_, err = suite.proxy.Retrieve(ctx, " ", vector.CollectionRef{}, 3, nil)
	suite.ErrorIs(err, ErrRemote)

	suite.NoError(suite.proxy.DropCollection(ctx, ref))
}

func (suite *natsTransportTestSuite) TestStoreErrorsSurviveTheProxy() {
	ctx := context.Background()

	_, err := suite.proxy.EnsureCollection(ctx, vector.CollectionRef{Name: "schema", Dimensions: 64})
	suite.NoError(err)

	_, err = suite.proxy.EnsureCollection(ctx, vector.CollectionRef{Name: "schema", Dimensions: 32})
	suite.ErrorIs(err, vector.ErrSchemaMismatch)
	suite.ErrorIs(err, ErrRemote)

	suite.NoError(suite.proxy.DropCollection(ctx, vector.CollectionRef{Name: "schema"}))

	_, err = suite.proxy.Retrieve(ctx, "anything", vector.CollectionRef{Name: "schema"}, 3, nil)
	suite.ErrorIs(err, vector.ErrCollectionNotFound)
}

func (suite *natsTransportTestSuite) TestPartialReportOnError() {
	ctx := context.Background()

	ref, err := suite.proxy.EnsureCollection(ctx, vector.CollectionRef{Name: "tiny", Dimensions: 8})
	suite.NoError(err)

	report, err := suite.proxy.Ingest(ctx, ragblade.Document{ID: "atlas", Text: "Project Atlas."}, ref)
	suite.ErrorIs(err, ErrRemote)
	suite.Equal(1, report.Chunks)
	suite.Len(report.Failures, 1)
}

func TestNATSTransportTestSuite(t *testing.T) {
	suite.Run(t, new(natsTransportTestSuite))
}
