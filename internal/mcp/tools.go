package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"browsertour/internal/command"
	"browsertour/internal/mangle"
	"browsertour/internal/runner"
	"browsertour/internal/tour"

	"go.uber.org/zap"
)

// RunTourTool runs a tour on a fresh page and returns the aggregated result.
type RunTourTool struct {
	server *Server
}

func (t *RunTourTool) Name() string { return "run-tour" }
func (t *RunTourTool) Description() string {
	return `Run a tour: a mapping of URL to task. Root tasks (root: true) are visited
first; a task whose URL is a prefix of the page's address after a batch runs
reactively. Commands map a capability name to its arguments:

- a string argument targets a selector: {"click": "#next"}
- a list calls with arguments: {"type": ["#q", "shoes"]}
- true or [] calls with none: {"reload": true}
- fetch/extract/scrape-named commands map output fields to CSS or XPath rules:
  {"fetchProduct": {"title": "h1", "sku": {"xpath": "//span[@id='sku']"}}}

Pass the tour as a JSON or YAML string to keep declaration order.`
}
func (t *RunTourTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tour": map[string]interface{}{
				"description": "Tour document as a JSON/YAML string, or an object (keys are then read in sorted order)",
			},
			"stop_on_error": map[string]interface{}{
				"type":        "boolean",
				"description": "Stop on the first failed command (default from config)",
			},
			"settle_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Pause after each task before reactive matching, in milliseconds",
			},
		},
		"required": []string{"tour"},
	}
}

func (t *RunTourTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	s := t.server

	var data []byte
	switch v := args["tour"].(type) {
	case string:
		data = []byte(v)
	case map[string]interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return map[string]interface{}{"success": false, "error": fmt.Sprintf("encode tour: %v", err)}, nil
		}
		data = encoded
	default:
		return map[string]interface{}{"success": false, "error": "tour is required"}, nil
	}

	tr, err := tour.Parse(data)
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}

	stopOnError := getBoolArg(args, "stop_on_error", s.cfg.Tour.StopOnError)
	settle := s.cfg.Tour.GetSettleDelay()
	if ms := getIntArg(args, "settle_ms", -1); ms >= 0 {
		settle = time.Duration(ms) * time.Millisecond
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	page, release, err := s.deps.Pages.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire page: %w", err)
	}
	defer release()

	opts := []runner.Option{
		runner.WithSettleDelay(settle),
		runner.WithStopOnError(stopOnError),
		runner.WithLogger(s.deps.Logger),
		runner.WithAllowList(command.DefaultAllowList(page.Capabilities(), s.cfg.Tour.Deny...)),
		runner.WithObserver(s.deps.Observers...),
	}
	if s.deps.Fetcher != nil {
		opts = append(opts, runner.WithFetcher(s.deps.Fetcher))
	}

	bot, err := runner.New(tr, page, opts...)
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}

	result, runErr := bot.Run(ctx)
	resp := map[string]interface{}{
		"success":  runErr == nil,
		"run_id":   bot.RunID(),
		"result":   result,
		"consumed": tr.Consumed(),
		"pending":  tr.Pending(),
	}
	if runErr != nil {
		resp["error"] = runErr.Error()
	}
	s.logger.Info("tour run finished",
		zap.String("run", bot.RunID()),
		zap.Int("fields", len(result)),
		zap.Int("pending", len(tr.Pending())),
		zap.Bool("success", runErr == nil),
	)
	return resp, nil
}

// ListCommandsTool lists the capabilities a tour may call.
type ListCommandsTool struct {
	commands *command.Registry
}

func (t *ListCommandsTool) Name() string { return "list-commands" }
func (t *ListCommandsTool) Description() string {
	return "List the page commands a tour may use, with their argument kind."
}
func (t *ListCommandsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListCommandsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	caps := t.commands.Capabilities()
	out := make([]map[string]interface{}, 0, len(caps))
	for _, c := range caps {
		out = append(out, map[string]interface{}{
			"name": c.Name,
			"kind": c.Kind.String(),
			"doc":  c.Doc,
		})
	}
	return map[string]interface{}{
		"commands":      out,
		"fetch_pattern": "fetch | fetch* | extract* | scrape* with a field-to-rule mapping",
	}, nil
}

// QueryJournalTool reads the run journal.
type QueryJournalTool struct {
	engine *mangle.Engine
}

func (t *QueryJournalTool) Name() string { return "query-journal" }
func (t *QueryJournalTool) Description() string {
	return `Query the run journal. Either pass a Mangle atom as query, e.g.
failed_task(R, K). or skipped_command("<run id>", K, C). , or a predicate
name to list its facts (optionally for one run_id).

Derived views: root_task, reactive_task, completed_task, unfinished_task,
skipped_command, failed_task, fetched_field, http_error.`
}
func (t *QueryJournalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle atom ending in a period",
			},
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to list when no query is given",
			},
			"run_id": map[string]interface{}{
				"type":        "string",
				"description": "Only facts whose first argument is this run (or page) id",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return (default 50, max 500)",
			},
		},
	}
}

func (t *QueryJournalTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, fmt.Errorf("journal disabled")
	}

	if query := getStringArg(args, "query"); query != "" {
		results, err := t.engine.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"count": len(results), "results": results}, nil
	}

	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return map[string]interface{}{"predicates": t.engine.Predicates()}, nil
	}

	limit := clamp(getIntArg(args, "limit", 50), 1, 500)
	facts, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	facts = filterByOwner(facts, getStringArg(args, "run_id"), limit)
	return map[string]interface{}{
		"predicate": predicate,
		"count":     len(facts),
		"facts":     facts,
	}, nil
}

// SubmitRuleTool adds Mangle rules to the journal program.
type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return "Add Mangle declarations or rules over the journal predicates, then query them with query-journal."
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source, e.g. visited(R, U) :- navigated(R, U, _).",
			},
		},
		"required": []string{"rule"},
	}
}

func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, fmt.Errorf("journal disabled")
	}
	rule := getStringArg(args, "rule")
	if rule == "" {
		return map[string]interface{}{"success": false, "error": "rule is required"}, nil
	}
	if err := t.engine.AddRule(rule); err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}
	return map[string]interface{}{"success": true}, nil
}
