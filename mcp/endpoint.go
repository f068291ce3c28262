package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/vector"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      mcp.RequestId   `json:"id"`
	Method  mcp.MCPMethod   `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ErrorResponse builds the JSON-RPC error answering the request with id.
func ErrorResponse(id mcp.RequestId, code int, message string) mcp.JSONRPCError {
	return mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data,omitempty"`
		}{
			Code:    code,
			Message: message,
		},
	}
}

type MCPEndpoint func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage

const MCPSERVER_INSTRUCTIONS string = `RAGBlade retrieves grounded context from isolated document collections:

1. **personal**: CVs and personal profiles
2. **project**: project descriptions and briefs
3. **test**: the disposable collection used by acceptance runs

Available tools:
- retrieve: Find the chunks most similar to a query, optionally filtered by payload fields
- ingest: Chunk, embed and store a document in a collection
- list_collections: Show the collections and their point counts

Every hit carries its document id, chunk index and source offsets.`

const (
	ToolRetrieve        = "retrieve"
	ToolIngest          = "ingest"
	ToolListCollections = "list_collections"
)

func Tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolRetrieve,
			mcp.WithDescription("Retrieve the chunks most similar to a query from a collection"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Natural language query"),
			),
			mcp.WithString("domain",
				mcp.Description("Collection domain"),
				mcp.Enum(string(ragblade.DomainPersonal), string(ragblade.DomainProject), string(ragblade.DomainTest)),
			),
			mcp.WithString("collection",
				mcp.Description("Explicit collection name, overrides the domain"),
			),
			mcp.WithNumber("top_k",
				mcp.Description("Maximum number of hits"),
			),
			mcp.WithObject("filters",
				mcp.Description(`Payload filter, e.g. {"metadata.level": {"must": true, "values": ["SENIOR"]}}`),
			),
		),
		mcp.NewTool(ToolIngest,
			mcp.WithDescription("Chunk, embed and store a document"),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("Document text"),
			),
			mcp.WithString("domain",
				mcp.Required(),
				mcp.Description("Owner domain of the document"),
				mcp.Enum(string(ragblade.DomainPersonal), string(ragblade.DomainProject), string(ragblade.DomainTest)),
			),
			mcp.WithString("id",
				mcp.Description("Document id, derived from source and text when empty"),
			),
			mcp.WithString("source",
				mcp.Description("Origin of the document"),
			),
			mcp.WithObject("metadata",
				mcp.Description("Arbitrary metadata stored with every chunk"),
			),
		),
		mcp.NewTool(ToolListCollections,
			mcp.WithDescription("List the collections and their point counts"),
		),
	}
}

func InitializeEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		protocolVersion := mcp.LATEST_PROTOCOL_VERSION
		if clientVersion := params.ProtocolVersion; clientVersion != "" {
			if slices.Contains(mcp.ValidProtocolVersions, clientVersion) {
				protocolVersion = clientVersion
			}
		}

		result := &mcp.InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{},
			},
			ServerInfo: mcp.Implementation{
				Name:    "ragblade",
				Version: "1.0.0",
			},
			Instructions: MCPSERVER_INSTRUCTIONS,
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func PingEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  struct{}{}, // empty response
		}
	}
}

func ListToolsEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		result := &mcp.ListToolsResult{
			Tools: Tools(),
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type RetrieveArguments struct {
	Query      string        `json:"query"`
	Domain     string        `json:"domain,omitempty"`
	Collection string        `json:"collection,omitempty"`
	TopK       int           `json:"top_k,omitempty"`
	Filters    vector.Filter `json:"filters,omitempty"`
}

type IngestArguments struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Source   string         `json:"source,omitempty"`
	Domain   string         `json:"domain"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var ErrToolNotFound = errors.New("tool not found")

func CallToolEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params callToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		if len(params.Arguments) == 0 {
			params.Arguments = json.RawMessage(`{}`)
		}

		var (
			result any
			err    error
		)

		switch params.Name {
		case ToolRetrieve:
			var args RetrieveArguments
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
			}

			ref := vector.CollectionRef{
				Name:   args.Collection,
				Domain: args.Domain,
			}

			result, err = svc.Retrieve(ctx, args.Query, ref, args.TopK, args.Filters)

		case ToolIngest:
			var args IngestArguments
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
			}

			owner, perr := ragblade.ParseDomain(args.Domain)
			if perr != nil {
				return ErrorResponse(req.ID, mcp.INVALID_PARAMS, perr.Error())
			}

			doc := ragblade.Document{
				ID:       args.ID,
				Source:   args.Source,
				Text:     args.Text,
				Owner:    owner,
				Metadata: args.Metadata,
			}

			result, err = svc.Ingest(ctx, doc, vector.CollectionRef{Domain: string(owner)})

		case ToolListCollections:
			result, err = svc.ListCollections(ctx)

		default:
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS,
				fmt.Sprintf("%s: %s", ErrToolNotFound.Error(), params.Name))
		}

		var toolResult *mcp.CallToolResult
		if err != nil {
			toolResult = mcp.NewToolResultError(err.Error())
		} else {
			bs, err := json.Marshal(result)
			if err != nil {
				return ErrorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error())
			}

			toolResult = mcp.NewToolResultText(string(bs))
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  toolResult,
		}
	}
}
