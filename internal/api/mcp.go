package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fluxmcp/internal/bfl"
	"github.com/kalambet/fluxmcp/internal/job"
	"github.com/kalambet/fluxmcp/internal/orchestrator"
	"github.com/kalambet/fluxmcp/internal/params"
	"github.com/kalambet/fluxmcp/internal/poll"
)

const (
	requestsURI    = "bfl://requests/"
	imagesURI      = "bfl://images/"
	requestTmplURI = "bfl://requests/{requestId}"
	imageTmplURI   = "bfl://images/{requestId}"
)

// Orchestrator is the workflow the MCP surface drives.
type Orchestrator interface {
	Generate(ctx context.Context, req orchestrator.GenerateRequest) (orchestrator.Outcome, error)
	Status(ctx context.Context, id string) (job.Job, error)
	Download(ctx context.Context, id, dest string) (orchestrator.DownloadResult, error)
	FetchInline(ctx context.Context, id string) (orchestrator.Artifact, error)
	List(ctx context.Context) ([]job.Job, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator Orchestrator
	Logger       *slog.Logger
	Version      string
}

// NewMCPServer creates an MCP server with the image tools and job resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"fluxmcp",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fluxmcp generates images with Black Forest Labs FLUX models. "+
			"Call generate_image, then read bfl://requests/{requestId} or bfl://images/{requestId}."),
		server.WithRecovery(),
	)

	s.AddTool(generateImageTool(), mcpGenerateImage(deps))
	s.AddTool(
		mcp.NewTool("download_image",
			mcp.WithDescription("Download a generated image to a local file"),
			mcp.WithString("request_id", mcp.Description("Request ID returned by generate_image"), mcp.Required()),
			mcp.WithString("file_path", mcp.Description("Destination file or directory"), mcp.Required()),
		),
		mcpDownloadImage(deps),
	)

	s.AddResource(
		mcp.NewResource(requestsURI, "Image requests",
			mcp.WithResourceDescription("All known generation requests, newest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRequests(deps),
	)
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(requestTmplURI, "Image request status",
			mcp.WithTemplateDescription("Current status of one generation request"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceRequest(deps),
	)
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(imageTmplURI, "Generated image",
			mcp.WithTemplateDescription("Image bytes of a finished generation request"),
		),
		mcpResourceImage(deps),
	)

	return s
}

// generateImageTool declares the union of every variant's parameters. Which
// of them apply is decided per model when the call is validated.
func generateImageTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Generate an image with a FLUX model. Waits for the result unless wait is false."),
		mcp.WithString("model",
			mcp.Description("Model to use"),
			mcp.Enum(job.VariantNames()...),
			mcp.Required(),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the image before returning (default true)"),
			mcp.DefaultBool(true),
		),
	}
	for _, f := range params.Fields() {
		popts := []mcp.PropertyOption{mcp.Description(f.Description)}
		if f.Required {
			popts = append(popts, mcp.Required())
		}
		switch f.Kind {
		case params.KindString:
			if len(f.Enum) > 0 {
				popts = append(popts, mcp.Enum(f.Enum...))
			}
			opts = append(opts, mcp.WithString(f.Name, popts...))
		case params.KindBool:
			opts = append(opts, mcp.WithBoolean(f.Name, popts...))
		case params.KindInt, params.KindNumber:
			if f.Max > f.Min {
				popts = append(popts, mcp.Min(f.Min), mcp.Max(f.Max))
			}
			opts = append(opts, mcp.WithNumber(f.Name, popts...))
		}
	}
	return mcp.NewTool("generate_image", opts...)
}

func mcpGenerateImage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, logger := invocation(ctx, deps.Logger, "generate_image")

		model, err := req.RequireString("model")
		if err != nil {
			return mcpError("InvalidModel: model is required"), nil
		}
		wait := req.GetBool("wait", true)

		out, err := deps.Orchestrator.Generate(ctx, orchestrator.GenerateRequest{
			Model:  model,
			Params: req.GetArguments(),
			Wait:   wait,
		})
		if err != nil {
			logger.Info("generate_image failed", "error", err)
			return mcpError(generateFailure(out, err)), nil
		}

		if !wait {
			return mcpText(fmt.Sprintf(
				"Request submitted.\nRequest ID: %s\nModel: %s\nRead %s%s for status, or %s%s for the image once ready.",
				out.ID, out.Variant, requestsURI, out.ID, imagesURI, out.ID)), nil
		}
		return mcpText(fmt.Sprintf("Image generated.\nRequest ID: %s\nModel: %s\nImage URL: %s\n"+
			"The URL is signed and expires; use download_image or %s%s to keep a copy.",
			out.ID, out.Variant, out.ResultURL, imagesURI, out.ID)), nil
	}
}

func generateFailure(out orchestrator.Outcome, err error) string {
	var terr *poll.TimeoutError
	if errors.As(err, &terr) {
		return fmt.Sprintf("%s: request %s is still pending after %d status checks. "+
			"It may still finish; check status later by reading %s%s.",
			errorClass(err), out.ID, terr.Attempts, requestsURI, out.ID)
	}
	if out.ID != "" {
		return fmt.Sprintf("%s: request %s: %v", errorClass(err), out.ID, err)
	}
	return fmt.Sprintf("%s: %v", errorClass(err), err)
}

func mcpDownloadImage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, logger := invocation(ctx, deps.Logger, "download_image")

		id, err := req.RequireString("request_id")
		if err != nil || strings.TrimSpace(id) == "" {
			return mcpError("request_id is required"), nil
		}
		dest, err := req.RequireString("file_path")
		if err != nil || strings.TrimSpace(dest) == "" {
			return mcpError("file_path is required"), nil
		}

		res, err := deps.Orchestrator.Download(ctx, id, dest)
		if err != nil {
			logger.Info("download_image failed", "job_id", id, "error", err)
			return mcpError(fmt.Sprintf("%s: request %s: %v", errorClass(err), id, err)), nil
		}
		return mcpText(fmt.Sprintf("Saved image for request %s to %s (%d bytes, %s)",
			id, res.Path, res.Bytes, res.ContentType)), nil
	}
}

// requestView is the JSON shape of bfl://requests/{requestId}.
type requestView struct {
	ID     string      `json:"id"`
	Status job.Status  `json:"status"`
	Result *resultView `json:"result"`
	Error  *string     `json:"error"`
	Model  job.Variant `json:"model,omitempty"`
}

type resultView struct {
	Sample string `json:"sample"`
}

func newRequestView(j job.Job) requestView {
	v := requestView{ID: j.ID, Status: j.Status, Model: j.Variant}
	if j.ResultURL != "" {
		v.Result = &resultView{Sample: j.ResultURL}
	}
	if j.ErrorDetail != "" {
		detail := j.ErrorDetail
		v.Error = &detail
	}
	return v
}

func mcpResourceRequest(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ctx, _ = invocation(ctx, deps.Logger, "read_request")

		id, err := resourceID(req.Params.URI, requestsURI)
		if err != nil {
			return nil, err
		}
		j, err := deps.Orchestrator.Status(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: request %s: %w", errorClass(err), id, err)
		}

		b, err := json.Marshal(newRequestView(j))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceImage(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ctx, _ = invocation(ctx, deps.Logger, "read_image")

		id, err := resourceID(req.Params.URI, imagesURI)
		if err != nil {
			return nil, err
		}
		art, err := deps.Orchestrator.FetchInline(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: request %s: %w", errorClass(err), id, err)
		}
		return []mcp.ResourceContents{
			mcp.BlobResourceContents{
				URI:      req.Params.URI,
				MIMEType: art.MIMEType,
				Blob:     base64.StdEncoding.EncodeToString(art.Data),
			},
		}, nil
	}
}

func mcpResourceRequests(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jobs, err := deps.Orchestrator.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list requests: %w", err)
		}
		if jobs == nil {
			jobs = []job.Job{}
		}

		b, err := json.Marshal(jobs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal requests: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// resourceID extracts the trailing request id from uri.
func resourceID(uri, prefix string) (string, error) {
	id, ok := strings.CutPrefix(uri, prefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid resource uri %q", uri)
	}
	return id, nil
}

// errorClass names the failure category a caller can react to.
func errorClass(err error) string {
	var (
		terr *orchestrator.TransferError
		perr *bfl.ProviderError
		serr *bfl.SchemaError
		verr *params.ValidationError
	)
	switch {
	case errors.Is(err, job.ErrInvalidModel):
		return "InvalidModel"
	case errors.As(err, &verr):
		return "InvalidParameter"
	case errors.Is(err, poll.ErrTimeout):
		return "PollingTimeout"
	case errors.Is(err, bfl.ErrUnknownJob):
		return "UnknownJob"
	case errors.Is(err, orchestrator.ErrNotReady):
		return "NotReady"
	case errors.Is(err, orchestrator.ErrGenerationFailed):
		return "GenerationFailed"
	case errors.Is(err, orchestrator.ErrMissingArtifact):
		return "MissingArtifact"
	case errors.As(err, &terr):
		return "TransferFailed"
	case errors.As(err, &perr):
		return "ProviderError"
	case errors.As(err, &serr):
		return "SchemaError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	default:
		return "Error"
	}
}

// invocation tags ctx with a fresh correlation id for one tool or resource call.
func invocation(ctx context.Context, logger *slog.Logger, op string) (context.Context, *slog.Logger) {
	id := uuid.NewString()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("invocation_id", id, "op", op)
	logger.Debug("mcp call")
	return orchestrator.WithInvocationID(ctx, id), logger
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
