package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"browsertour/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

//go:embed schema/tour.mg
var builtinSchema string

// ErrNotReady is returned by queries when the engine is disabled or has no program.
var ErrNotReady = errors.New("engine not ready")

// Fact is one journal entry.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult represents a binding of variables to values from a Mangle query.
type QueryResult map[string]interface{}

// Engine wraps the Mangle deductive database. Facts are kept in a bounded
// buffer (with a predicate index) and as base atoms. Rules with negation can
// retract conclusions as facts arrive, so every evaluation starts from the base
// atoms in a fresh store.
type Engine struct {
	cfg    config.MangleConfig
	logger *zap.Logger

	mu           sync.RWMutex
	schemaLoaded bool
	sources      []string
	programInfo  *analysis.ProgramInfo
	base         []ast.Atom
	store        factstore.FactStore
	dirty        bool

	facts []Fact
	index map[string][]int
}

// NewEngine builds an engine and loads cfg.SchemaPath, or the embedded tour
// schema when no path is set.
func NewEngine(cfg config.MangleConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "mangle")),
		facts:  make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index:  make(map[string][]int),
		store:  factstore.NewSimpleInMemoryStore(),
	}

	if !cfg.Enable {
		return e, nil
	}
	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
		return e, nil
	}
	if err := e.LoadSchemaSource(builtinSchema); err != nil {
		return nil, fmt.Errorf("builtin schema: %w", err)
	}
	return e, nil
}

// LoadSchema reads a schema file and replaces the current program with it.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return e.LoadSchemaSource(string(data))
}

// LoadSchemaSource parses and analyzes src and replaces the current program.
func (e *Engine) LoadSchemaSource(src string) error {
	programInfo, err := analyze([]string{src})
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources = []string{src}
	e.programInfo = programInfo
	e.schemaLoaded = true
	e.dirty = true
	return nil
}

// AddRule adds declarations and rules on top of the loaded program. The whole
// program is re-analyzed so new rules may use existing predicates.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sources := append(append([]string(nil), e.sources...), ruleSource)
	programInfo, err := analyze(sources)
	if err != nil {
		return fmt.Errorf("rule: %w", err)
	}
	e.sources = sources
	e.programInfo = programInfo
	e.schemaLoaded = true
	e.dirty = true
	e.logger.Debug("rule added", zap.Int("sources", len(sources)))
	return nil
}

func analyze(sources []string) (*analysis.ProgramInfo, error) {
	unit, err := parse.Unit(strings.NewReader(strings.Join(sources, "\n")))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return programInfo, nil
}

// AddFacts appends facts to the buffer and the base atoms. Rules are
// evaluated lazily on the next query.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	baseIdx := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		trimCount := len(e.facts) - e.cfg.FactBufferLimit
		e.facts = e.facts[trimCount:]
		e.rebuildIndex()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		}
	}

	for _, f := range facts {
		e.base = append(e.base, e.factToAtom(f))
	}
	e.dirty = true
	return nil
}

// evaluate rebuilds the store when facts or rules changed. Callers hold the
// write lock.
func (e *Engine) evaluate() error {
	if !e.dirty || e.programInfo == nil {
		return nil
	}
	start := time.Now()
	store := factstore.NewSimpleInMemoryStore()
	for _, atom := range e.base {
		store.Add(atom)
	}
	if err := engine.EvalProgram(e.programInfo, store); err != nil {
		return fmt.Errorf("eval program: %w", err)
	}
	e.store = store
	e.dirty = false
	e.logger.Debug("program evaluated", zap.Duration("took", time.Since(start)))
	return nil
}

// Query evaluates a single atom such as `failed_task(R, K).` and returns one
// binding per matching fact. Constants in the atom filter the results.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.Ready() || !e.cfg.Enable {
		return nil, ErrNotReady
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := sourceUnit.Clauses[0].Head

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.evaluate(); err != nil {
		return nil, err
	}

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				result[v.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Evaluate runs the program and returns every fact, stored or derived, for
// predicate.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.Ready() || !e.cfg.Enable {
		return nil, ErrNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.evaluate(); err != nil {
		return nil, err
	}

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return []Fact{}, nil
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	queryAtom := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	facts := make([]Fact, 0)
	err := e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		facts = append(facts, atomToFact(atom))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// FactsByPredicate returns buffered facts for predicate in insertion order.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.facts) {
			results = append(results, e.facts[idx])
		}
	}
	return results
}

// Facts returns a shallow copy of buffered facts.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Predicates lists declared predicates (with arity) sorted by name.
func (e *Engine) Predicates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.programInfo == nil {
		return nil
	}
	out := make([]string, 0, len(e.programInfo.Decls))
	for sym := range e.programInfo.Decls {
		if strings.HasPrefix(sym.Symbol, ":") {
			continue
		}
		out = append(out, fmt.Sprintf("%s/%d", sym.Symbol, sym.Arity))
	}
	sort.Strings(out)
	return out
}

// Ready reports whether the engine has a usable query context.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

func (e *Engine) factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: time.Now()}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	if c == nil {
		return nil
	}
	switch term := c.(type) {
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			if val, err := term.NumberValue(); err == nil {
				return val
			}
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}
