package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/harness"
	"github.com/flarexio/ragblade/vector"

	mcpE "github.com/flarexio/ragblade/mcp"
	httpT "github.com/flarexio/ragblade/transport/http"
	natsT "github.com/flarexio/ragblade/transport/nats"
)

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "ragblade",
		Usage: "RAGBlade retrieval service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "Path to the RAGBlade working directory",
				Sources: cli.EnvVars("RAGBLADE_PATH"),
			},
			&cli.StringFlag{
				Name:    "qdrant-host",
				Usage:   "Qdrant host, selects the qdrant driver",
				Sources: cli.EnvVars("QDRANT_HOST"),
			},
			&cli.IntFlag{
				Name:    "qdrant-port",
				Usage:   "Qdrant REST port",
				Sources: cli.EnvVars("QDRANT_PORT"),
			},
			&cli.StringFlag{
				Name:    "embedding-model",
				Usage:   "Embedding model identifier",
				Sources: cli.EnvVars("EMBEDDING_MODEL_NAME"),
			},
			&cli.StringFlag{
				Name:    "test-collection",
				Usage:   "Disposable collection used by the harness",
				Sources: cli.EnvVars("TEST_COLLECTION_NAME"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve RAGBlade over NATS and HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "nats",
						Usage:   "NATS server URL",
						Value:   "wss://nats.flarex.io",
						Sources: cli.EnvVars("NATS_URL"),
					},
					&cli.BoolFlag{
						Name:  "http",
						Usage: "Enable HTTP transport",
						Value: false,
					},
					&cli.StringFlag{
						Name:  "http-addr",
						Usage: "HTTP server address",
						Value: ":8080",
					},
					&cli.BoolFlag{
						Name:  "init",
						Usage: "Run the harness before serving and ensure the live collections",
					},
				},
				Action: serve,
			},
			{
				Name:      "ingest",
				Usage:     "Ingest text, markdown, PDF or Word files",
				ArgsUsage: "[files...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "domain",
						Usage:    "Owner domain: personal, project or test",
						Required: true,
					},
				},
				Action: ingest,
			},
			{
				Name:      "query",
				Usage:     "Retrieve the chunks most similar to a query",
				ArgsUsage: "[query]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "domain",
						Usage: "Collection domain",
						Value: string(ragblade.DomainPersonal),
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Maximum number of hits",
						Value: ragblade.DefaultTopK,
					},
					&cli.StringFlag{
						Name:  "filter",
						Usage: `Payload filter as JSON, e.g. {"metadata.level": {"must": true, "values": ["SENIOR"]}}`,
					},
				},
				Action: query,
			},
			{
				Name:  "test",
				Usage: "Run the harness and initialize the live collections",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "settings",
						Usage: "Harness settings files",
					},
					&cli.StringFlag{
						Name:    "personal-settings",
						Usage:   "Harness settings for the personal domain",
						Sources: cli.EnvVars("PERSONAL_DATA_TEST_SETTINGS"),
					},
					&cli.StringFlag{
						Name:    "project-settings",
						Usage:   "Harness settings for the project domain",
						Sources: cli.EnvVars("PROJECT_DATA_TEST_SETTINGS"),
					},
				},
				Action: test,
			},
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

type app struct {
	path string
	cfg  ragblade.Config
	log  *zap.Logger
	svc  ragblade.Service
}

func setup(ctx context.Context, cmd *cli.Command) (*app, error) {
	path := cmd.String("path")
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		path = filepath.Join(homeDir, ".flarex", "ragblade")
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)

	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	if host := cmd.String("qdrant-host"); host != "" {
		cfg.Vector.Driver = "qdrant"
		cfg.Vector.Qdrant.Host = host
	}

	if cmd.IsSet("qdrant-port") {
		cfg.Vector.Qdrant.Port = int(cmd.Int("qdrant-port"))
	}

	if model := cmd.String("embedding-model"); model != "" {
		cfg.Embedding.Model = model
	}

	if name := cmd.String("test-collection"); name != "" {
		cfg.Collections.Test = name
	}

	if settings := cmd.String("personal-settings"); settings != "" {
		cfg.Harness.PersonalSettings = settings
	}

	if settings := cmd.String("project-settings"); settings != "" {
		cfg.Harness.ProjectSettings = settings
	}

	svc, err := newService(ctx, cfg, path, log)
	if err != nil {
		return nil, err
	}

	return &app{
		path: path,
		cfg:  cfg,
		log:  log,
		svc:  svc,
	}, nil
}

func (a *app) Close() {
	a.svc.Close()
	a.log.Sync()
}

// initialize runs the configured harness settings against the test
// collection.
func (a *app) initialize(ctx context.Context, files ...string) error {
	for _, file := range []string{a.cfg.Harness.PersonalSettings, a.cfg.Harness.ProjectSettings} {
		if file != "" {
			files = append(files, file)
		}
	}

	if len(files) == 0 {
		return errors.New("no harness settings configured")
	}

	settings := make([]harness.Settings, 0, len(files))
	for _, file := range files {
		s, err := harness.LoadSettings(file)
		if err != nil {
			return err
		}

		settings = append(settings, s)
	}

	reports, refs, err := harness.Initialize(ctx, a.svc, settings...)
	for _, report := range reports {
		for _, c := range report.Cases {
			a.log.Info("case evaluated",
				zap.String("settings", report.Settings),
				zap.String("case", c.Name),
				zap.Bool("passed", c.Passed),
				zap.Float64("top_score", c.TopScore),
			)
		}
	}

	if err != nil {
		return err
	}

	for _, ref := range refs {
		a.log.Info("collection ready", zap.String("collection", ref.Name), zap.String("domain", ref.Domain))
	}

	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Bool("init") {
		if err := a.initialize(ctx); err != nil {
			return err
		}
	}

	endpoints := ragblade.MakeEndpoints(a.svc)

	// Add NATS Transport
	idBytes, err := os.ReadFile(filepath.Join(a.path, "id"))
	switch {
	case err == nil:
		edgeID := strings.TrimSpace(string(idBytes))

		natsURL := cmd.String("nats")
		natsCreds := filepath.Join(a.path, "user.creds")

		nc, err := nats.Connect(natsURL,
			nats.Name("RAGBlade Server - "+edgeID),
			nats.UserCredentials(natsCreds),
		)

		if err != nil {
			return err
		}
		defer nc.Drain()

		srv, err := micro.AddService(nc, micro.Config{
			Name:    "ragblade",
			Version: "1.0.0",
		})

		if err != nil {
			return err
		}
		defer srv.Stop()

		topic := "edges." + edgeID + ".ragblade"

		root := srv.AddGroup(topic)
		if err := natsT.AddEndpoints(root, endpoints); err != nil {
			return err
		}

	case os.IsNotExist(err):
		a.log.Warn("edge id not found, nats transport disabled")

	default:
		return err
	}

	httpEnabled := cmd.Bool("http")
	if httpEnabled {
		r := gin.Default()
		httpT.AddRouters(r, endpoints)

		endpoints := make(map[mcp.MCPMethod]mcpE.MCPEndpoint)
		endpoints[mcp.MethodInitialize] = mcpE.InitializeEndpoint(a.svc)
		endpoints[mcp.MethodPing] = mcpE.PingEndpoint(a.svc)
		endpoints[mcp.MethodToolsList] = mcpE.ListToolsEndpoint(a.svc)
		endpoints[mcp.MethodToolsCall] = mcpE.CallToolEndpoint(a.svc)
		httpT.AddStreamableRouters(r, endpoints)

		httpAddr := cmd.String("http-addr")
		go r.Run(httpAddr)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	a.log.Info("graceful shutdown", zap.String("signal", sign.String()))
	return nil
}

func ingest(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return errors.New("no files given")
	}

	domain, err := ragblade.ParseDomain(cmd.String("domain"))
	if err != nil {
		return err
	}

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ref, err := a.svc.EnsureCollection(ctx, vector.CollectionRef{Domain: string(domain)})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var failed int
	for _, file := range files {
		report, err := a.svc.IngestFile(ctx, file, domain, ref)
		if err != nil {
			if report.Canceled {
				return err
			}

			failed++
			continue
		}

		failed += len(report.Failures)
		fmt.Printf("%s\t%s\t%d chunks\t%d failed\n",
			file, report.DocumentID, report.Chunks, len(report.Failures))
	}

	if failed > 0 {
		return fmt.Errorf("%d failures while ingesting", failed)
	}

	return nil
}

func query(ctx context.Context, cmd *cli.Command) error {
	text := strings.Join(cmd.Args().Slice(), " ")

	domain, err := ragblade.ParseDomain(cmd.String("domain"))
	if err != nil {
		return err
	}

	var filter vector.Filter
	if raw := cmd.String("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return err
		}
	}

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = ragblade.WithCollection(ctx, vector.CollectionRef{Domain: string(domain)})

	result, err := a.svc.Retrieve(ctx, text, vector.CollectionRef{}, int(cmd.Int("top-k")), filter)
	if err != nil {
		return err
	}

	fmt.Printf("collection %s, %d hits\n", result.Collection, len(result.Hits))
	for i, hit := range result.Hits {
		fmt.Printf("%d. %.4f %s#%d\n   %s\n", i+1, hit.Score, hit.DocumentID, hit.ChunkIndex, hit.Text)
	}

	return nil
}

func test(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.initialize(ctx, cmd.StringSlice("settings")...); err != nil {
		return err
	}

	fmt.Println("harness passed, collections initialized")
	return nil
}
