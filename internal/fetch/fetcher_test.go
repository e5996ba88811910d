package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"browsertour/internal/command"
	"browsertour/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<!doctype html>
<html>
<head><title>Widget</title></head>
<body>
  <h1 class="name">  Blue Widget </h1>
  <span class="price" data-currency="EUR">12.50</span>
  <ul id="tags">
    <li><a href="/t/blue">blue</a></li>
    <li><a href="/t/small">small</a></li>
    <li><a>untagged</a></li>
  </ul>
  <div id="desc"><p>Great <b>value</b></p></div>
</body>
</html>`

type htmlPage struct {
	html string
	err  error
}

func (p htmlPage) Navigate(context.Context, string) error    { return nil }
func (p htmlPage) URL() string                               { return "https://shop.example/widget" }
func (p htmlPage) Wait(context.Context, time.Duration) error { return nil }
func (p htmlPage) HTML(context.Context) (string, error)      { return p.html, p.err }
func (p htmlPage) Capabilities() *command.Registry           { return command.NewRegistry() }

var _ runner.Fetcher = (*Fetcher)(nil)

func TestPullCSSAndXPath(t *testing.T) {
	spec := map[string]any{
		"name":     "h1.name",
		"price":    map[string]any{"css": ".price"},
		"currency": map[string]any{"selector": ".price", "attr": "data-currency"},
		"tags":     map[string]any{"xpath": "//ul[@id='tags']/li/a", "all": true},
		"links":    map[string]any{"css": "#tags a", "attr": "href", "all": true},
		"desc":     map[string]any{"css": "#desc", "html": true},
		"title":    map[string]any{"xpath": "//title"},
		"missing":  ".does-not-exist",
		"none":     map[string]any{"css": ".nope", "all": true},
	}

	got, err := New(nil).Pull(context.Background(), htmlPage{html: productPage}, spec)
	require.NoError(t, err)

	assert.Equal(t, "Blue Widget", got["name"])
	assert.Equal(t, "12.50", got["price"])
	assert.Equal(t, "EUR", got["currency"])
	assert.Equal(t, []string{"blue", "small", "untagged"}, got["tags"])
	assert.Equal(t, []string{"/t/blue", "/t/small"}, got["links"])
	assert.Equal(t, "<p>Great <b>value</b></p>", got["desc"])
	assert.Equal(t, "Widget", got["title"])
	assert.Nil(t, got["missing"])
	assert.Contains(t, got, "missing")
	assert.Equal(t, []string{}, got["none"])
}

func TestPullTrimOption(t *testing.T) {
	spec := map[string]any{"name": map[string]any{"css": "h1", "trim": false}}
	got, err := New(nil).Pull(context.Background(), htmlPage{html: productPage}, spec)
	require.NoError(t, err)
	assert.Equal(t, "  Blue Widget ", got["name"])
}

func TestPullPageError(t *testing.T) {
	boom := errors.New("target closed")
	_, err := New(nil).Pull(context.Background(), htmlPage{err: boom}, map[string]any{"x": "h1"})
	assert.ErrorIs(t, err, boom)
}

func TestParseSpecErrors(t *testing.T) {
	tests := []struct {
		name string
		spec any
	}{
		{"not a mapping", []any{"h1"}},
		{"empty mapping", map[string]any{}},
		{"empty selector", map[string]any{"x": " "}},
		{"rule wrong type", map[string]any{"x": 3}},
		{"no selector", map[string]any{"x": map[string]any{"attr": "href"}}},
		{"css and xpath", map[string]any{"x": map[string]any{"css": "a", "xpath": "//a"}}},
		{"html and attr", map[string]any{"x": map[string]any{"css": "a", "html": true, "attr": "href"}}},
		{"unknown option", map[string]any{"x": map[string]any{"css": "a", "regex": ".*"}}},
		{"bad xpath", map[string]any{"x": map[string]any{"xpath": "//a[@"}}},
		{"non-bool all", map[string]any{"x": map[string]any{"css": "a", "all": "yes"}}},
		{"non-string attr", map[string]any{"x": map[string]any{"css": "a", "attr": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSpec(tt.spec)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestParseSpecSortedByField(t *testing.T) {
	rules, err := ParseSpec(map[string]any{"b": "h1", "a": "h2", "c": map[string]any{"xpath": "//p"}})
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "a", rules[0].Field)
	assert.Equal(t, "b", rules[1].Field)
	assert.Equal(t, "c", rules[2].Field)
	assert.True(t, rules[0].Trim)
}
