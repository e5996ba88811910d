package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"browsertour/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"tourbot://about",
			"Tourbot About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"tourbot://run/{runId}/facts{?predicate,limit}",
			"Run Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("The most recent journal facts recorded for a run, optionally for one predicate."),
		),
		s.handleRunFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"notes": []string{
			"run-tour returns a run_id; read its journal with query-journal or tourbot://run/{runId}/facts.",
			"list-commands shows what a tour may call on the page.",
		},
		"journal":      s.deps.Engine != nil,
		"timestamp_ms": time.Now().UnixMilli(),
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleRunFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.deps.Engine == nil {
		return nil, fmt.Errorf("journal disabled")
	}

	runID := argString(request.Params.Arguments["runId"])
	if runID == "" {
		return nil, fmt.Errorf("missing runId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := clamp(getIntArg(request.Params.Arguments, "limit", 25), 1, 500)

	facts := recentRunFacts(s.deps.Engine, runID, predicate, limit)

	payload := map[string]interface{}{
		"run_id":    runID,
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// recentRunFacts returns up to limit of the newest buffered facts for runID,
// oldest first.
func recentRunFacts(engine *mangle.Engine, runID, predicate string, limit int) []mangle.Fact {
	if engine == nil || runID == "" || limit <= 0 {
		return []mangle.Fact{}
	}

	var source []mangle.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != runID {
			continue
		}
		out = append(out, f)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
