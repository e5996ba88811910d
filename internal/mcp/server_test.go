package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"browsertour/internal/command"
	"browsertour/internal/config"
	"browsertour/internal/fetch"
	"browsertour/internal/mangle"
	"browsertour/internal/runner"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubPage serves fixed HTML per URL; clicking "#next" moves to next.
type stubPage struct {
	mu    sync.Mutex
	url   string
	next  string
	pages map[string]string
	reg   *command.Registry
}

func newStubPage(next string, pages map[string]string) *stubPage {
	p := &stubPage{next: next, pages: pages}
	p.reg = command.NewRegistry(
		command.NewSelector("click", "click", func(_ context.Context, selector string) error {
			if selector != "#next" {
				return errors.New("no such element " + selector)
			}
			p.mu.Lock()
			p.url = p.next
			p.mu.Unlock()
			return nil
		}),
		command.NewNullary("reload", "reload", func(context.Context) error { return nil }),
	)
	return p
}

func (p *stubPage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *stubPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *stubPage) Wait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func (p *stubPage) HTML(context.Context) (string, error) {
	return p.pages[p.URL()], nil
}

func (p *stubPage) Capabilities() *command.Registry { return p.reg }

type stubSource struct {
	page     runner.Page
	err      error
	released int
}

func (s *stubSource) Acquire(context.Context) (runner.Page, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.page, func() { s.released++ }, nil
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Name = "test-server"
	cfg.Server.Version = "1.0.0"
	return cfg
}

func newTestServer(t *testing.T, src PageSource) (*Server, *mangle.Engine) {
	t.Helper()
	cfg := testConfig()
	engine, err := mangle.NewEngine(cfg.Mangle, zap.NewNop())
	require.NoError(t, err)

	s, err := NewServer(cfg, Deps{
		Pages:     src,
		Engine:    engine,
		Commands:  command.NewRegistry(command.NewSelector("click", "click an element", nil)),
		Fetcher:   fetch.New(nil),
		Observers: []runner.Observer{mangle.NewJournal(engine, nil)},
	})
	require.NoError(t, err)
	return s, engine
}

const shopTour = `{
  "https://shop.test/": {"root": true, "click": "#next", "bogus": "x"},
  "https://shop.test/item": {"fetchItem": {"name": "h1", "price": {"xpath": "//span[@class='price']"}}}
}`

func TestNewServerRegistersTools(t *testing.T) {
	s, _ := newTestServer(t, &stubSource{})
	for _, name := range []string{"run-tour", "list-commands", "query-journal", "submit-rule"} {
		assert.Contains(t, s.tools, name)
	}

	_, err := NewServer(testConfig(), Deps{})
	assert.Error(t, err)

	_, err = s.ExecuteTool(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestRunTourAndQueryJournal(t *testing.T) {
	page := newStubPage("https://shop.test/item/3", map[string]string{
		"https://shop.test/item/3": `<html><body><h1>Lamp</h1><span class="price">12.50</span></body></html>`,
	})
	src := &stubSource{page: page}
	s, _ := newTestServer(t, src)
	ctx := context.Background()

	out, err := s.ExecuteTool(ctx, "run-tour", map[string]interface{}{"tour": shopTour, "settle_ms": 0})
	require.NoError(t, err)
	resp := out.(map[string]interface{})
	require.Equal(t, true, resp["success"], resp["error"])
	assert.Equal(t, runner.Result{"name": "Lamp", "price": "12.50"}, resp["result"])
	assert.Empty(t, resp["pending"])
	assert.Equal(t, 1, src.released)

	runID := resp["run_id"].(string)
	require.NotEmpty(t, runID)

	out, err = s.ExecuteTool(ctx, "query-journal", map[string]interface{}{
		"query": `reactive_task("` + runID + `", K).`,
	})
	require.NoError(t, err)
	results := out.(map[string]interface{})["results"].([]mangle.QueryResult)
	require.Len(t, results, 1)
	assert.Equal(t, "https://shop.test/item", results[0]["K"])

	out, err = s.ExecuteTool(ctx, "query-journal", map[string]interface{}{"predicate": "fetched", "run_id": runID})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(map[string]interface{})["count"])

	out, err = s.ExecuteTool(ctx, "query-journal", map[string]interface{}{"predicate": "fetched", "run_id": "other"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.(map[string]interface{})["count"])
}

func TestRunTourReportsBadInput(t *testing.T) {
	s, _ := newTestServer(t, &stubSource{page: newStubPage("", nil)})
	ctx := context.Background()

	for _, args := range []map[string]interface{}{
		{},
		{"tour": `{"https://a/": {"click": "#x"}}`}, // no root task
		{"tour": `{"https://a/": `},
	} {
		out, err := s.ExecuteTool(ctx, "run-tour", args)
		require.NoError(t, err)
		resp := out.(map[string]interface{})
		assert.Equal(t, false, resp["success"], args)
		assert.NotEmpty(t, resp["error"], args)
	}
}

func TestRunTourStopOnError(t *testing.T) {
	src := &stubSource{page: newStubPage("https://a/next", nil)}
	s, _ := newTestServer(t, src)

	out, err := s.ExecuteTool(context.Background(), "run-tour", map[string]interface{}{
		"tour":          "https://a/:\n  root: true\n  click: '#missing'\n",
		"stop_on_error": true,
		"settle_ms":     0,
	})
	require.NoError(t, err)
	resp := out.(map[string]interface{})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "#missing")
}

func TestRunTourAcquireFailure(t *testing.T) {
	s, _ := newTestServer(t, &stubSource{err: errors.New("browser down")})
	_, err := s.ExecuteTool(context.Background(), "run-tour", map[string]interface{}{"tour": shopTour})
	assert.ErrorContains(t, err, "browser down")
}

func TestListCommands(t *testing.T) {
	s, _ := newTestServer(t, &stubSource{})
	out, err := s.ExecuteTool(context.Background(), "list-commands", nil)
	require.NoError(t, err)
	cmds := out.(map[string]interface{})["commands"].([]map[string]interface{})
	require.Len(t, cmds, 1)
	assert.Equal(t, "click", cmds[0]["name"])
	assert.Equal(t, command.Selector.String(), cmds[0]["kind"])
}

func TestSubmitRule(t *testing.T) {
	s, engine := newTestServer(t, &stubSource{})
	ctx := context.Background()

	out, err := s.ExecuteTool(ctx, "submit-rule", map[string]interface{}{"rule": `visited(R, U) :- navigated(R, U, _).`})
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]interface{})["success"])

	require.NoError(t, engine.AddFacts(ctx, []mangle.Fact{{Predicate: "navigated", Args: []interface{}{"r1", "https://a/", int64(1)}}}))
	out, err = s.ExecuteTool(ctx, "query-journal", map[string]interface{}{"query": `visited(R, U).`})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]interface{})["count"])

	out, err = s.ExecuteTool(ctx, "submit-rule", map[string]interface{}{"rule": `nope(`})
	require.NoError(t, err)
	assert.Equal(t, false, out.(map[string]interface{})["success"])
}

func TestJournalToolsWithoutEngine(t *testing.T) {
	s, err := NewServer(testConfig(), Deps{Pages: &stubSource{}})
	require.NoError(t, err)
	_, err = s.ExecuteTool(context.Background(), "query-journal", map[string]interface{}{"predicate": "fetched"})
	assert.Error(t, err)
	_, err = s.ExecuteTool(context.Background(), "submit-rule", map[string]interface{}{"rule": "x."})
	assert.Error(t, err)
}

func TestWrapToolFormatsResults(t *testing.T) {
	s, _ := newTestServer(t, &stubSource{})
	handler := s.wrapTool(s.tools["list-commands"])

	res, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := res.Content[0].(mcp.TextContent).Text
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	assert.Contains(t, payload, "commands")

	handler = s.wrapTool(s.tools["query-journal"])
	res, err = handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: map[string]interface{}{"query": "broken("}},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(res.Content[0].(mcp.TextContent).Text, "tool query-journal failed"))
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("x", map[string]interface{}{"bad": make(chan int)})
	assert.Contains(t, string(payload), "non-serializable")
}

func TestRecentRunFacts(t *testing.T) {
	engine, err := mangle.NewEngine(config.MangleConfig{Enable: true}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, engine.AddFacts(ctx, []mangle.Fact{
			{Predicate: "navigated", Args: []interface{}{"r1", "https://a/", int64(i)}},
			{Predicate: "navigated", Args: []interface{}{"r2", "https://b/", int64(i)}},
		}))
	}

	facts := recentRunFacts(engine, "r1", "navigated", 2)
	require.Len(t, facts, 2)
	assert.Equal(t, int64(3), facts[0].Args[2])
	assert.Equal(t, int64(4), facts[1].Args[2])
	assert.Empty(t, recentRunFacts(engine, "", "", 5))
}
