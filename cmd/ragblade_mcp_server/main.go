package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/vector"

	mcpE "github.com/flarexio/ragblade/mcp"
	natsT "github.com/flarexio/ragblade/transport/nats"
)

// maxLine bounds a single JSON-RPC message read from stdin.
const maxLine = 16 * 1024 * 1024

var ErrEndpointExists = errors.New("endpoint already exists")

type StdioMCPServer interface {
	AddEndpoint(method mcp.MCPMethod, endpoint mcpE.MCPEndpoint) error
	Listen(ctx context.Context) error
}

// NewStdioMCPServer serves newline-delimited JSON-RPC read from in and
// answers on out.
func NewStdioMCPServer(in io.Reader, out io.Writer) StdioMCPServer {
	return &stdioMCPServer{
		in:        in,
		out:       out,
		endpoints: make(map[mcp.MCPMethod]mcpE.MCPEndpoint),
	}
}

type stdioMCPServer struct {
	in        io.Reader
	out       io.Writer
	endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint
}

func (s *stdioMCPServer) AddEndpoint(method mcp.MCPMethod, endpoint mcpE.MCPEndpoint) error {
	if _, ok := s.endpoints[method]; ok {
		return fmt.Errorf("%w: %s", ErrEndpointExists, method)
	}

	s.endpoints[method] = endpoint
	return nil
}

// Listen answers requests until the input ends or ctx is done.
func (s *stdioMCPServer) Listen(ctx context.Context) error {
	lines, done := s.scan(ctx)
	enc := json.NewEncoder(s.out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				return <-done
			}

			resp, ok := s.handle(ctx, line)
			if !ok {
				continue
			}

			if err := enc.Encode(resp); err != nil {
				return err
			}
		}
	}
}

// scan feeds input lines until EOF. done yields the read error, nil at EOF.
func (s *stdioMCPServer) scan(ctx context.Context) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	done := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

		for scanner.Scan() {
			select {
			case lines <- bytes.Clone(scanner.Bytes()):
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}

		done <- scanner.Err()
	}()

	return lines, done
}

// handle answers one line. Blank lines and notifications get no answer.
func (s *stdioMCPServer) handle(ctx context.Context, line []byte) (mcp.JSONRPCMessage, bool) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, false
	}

	var req mcpE.JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return mcpE.ErrorResponse(mcp.NewRequestId(nil), mcp.PARSE_ERROR, err.Error()), true
	}

	if req.ID.IsNil() {
		return nil, false
	}

	endpoint, ok := s.endpoints[req.Method]
	if !ok {
		return mcpE.ErrorResponse(req.ID, mcp.METHOD_NOT_FOUND, "method not found: "+string(req.Method)), true
	}

	return endpoint(ctx, req), true
}

func main() {
	cmd := &cli.Command{
		Name:  "ragblade_mcp_server",
		Usage: "RAGBlade MCP Server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats",
				Usage:   "NATS server URL",
				Value:   "wss://nats.flarex.io",
				Sources: cli.EnvVars("NATS_URL"),
			},
			&cli.StringFlag{
				Name:    "nats-creds",
				Usage:   "NATS user credentials file",
				Sources: cli.EnvVars("NATS_CREDS"),
			},
			&cli.StringFlag{
				Name:     "edge-id",
				Usage:    "Edge ID for connecting to the RAGBlade service",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "domain",
				Usage: "Default collection domain for tools called without one",
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	edgeID := cmd.String("edge-id")

	opts := []nats.Option{
		nats.Name("RAGBlade MCP Server - " + edgeID),
	}

	if creds := cmd.String("nats-creds"); creds != "" {
		opts = append(opts, nats.UserCredentials(creds))
	}

	nc, err := nats.Connect(cmd.String("nats"), opts...)
	if err != nil {
		return err
	}
	defer nc.Drain()

	if domain := cmd.String("domain"); domain != "" {
		d, err := ragblade.ParseDomain(domain)
		if err != nil {
			return err
		}

		ctx = ragblade.WithCollection(ctx, vector.CollectionRef{Domain: string(d)})
	}

	endpoints := natsT.MakeEndpoints(nc, fmt.Sprintf("edges.%s.ragblade", edgeID))

	var svc ragblade.Service
	svc = ragblade.ProxyMiddleware(endpoints)(svc)

	s := NewStdioMCPServer(os.Stdin, os.Stdout)
	for method, endpoint := range map[mcp.MCPMethod]mcpE.MCPEndpoint{
		mcp.MethodInitialize: mcpE.InitializeEndpoint(svc),
		mcp.MethodPing:       mcpE.PingEndpoint(svc),
		mcp.MethodToolsList:  mcpE.ListToolsEndpoint(svc),
		mcp.MethodToolsCall:  mcpE.CallToolEndpoint(svc),
	} {
		if err := s.AddEndpoint(method, endpoint); err != nil {
			return err
		}
	}

	err = s.Listen(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
