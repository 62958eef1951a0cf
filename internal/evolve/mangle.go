// Drift rules are expressed as small Datalog programs and
// evaluated by google/mangle, scoped down from the teacher's
// internal/mangle/engine.go wrapper (schema loading via parse.Unit +
// analysis.AnalyzeOneUnit, fact insertion via a predicate-indexed
// ast.Atom builder, evaluation via engine.EvalProgramWithStats, and
// retrieval via store.GetFacts(ast.NewQuery(sym), ...)) to the single
// concern this controller needs: was a fact inserted that a rule derives
// into a "should_regenerate" conclusion.
package evolve

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// ruleEngine is a minimal in-memory Mangle program: load schema/rule
// fragments, assert facts about artifacts, evaluate, and read back derived
// facts for a given predicate.
type ruleEngine struct {
	mu             sync.Mutex
	store          factstore.FactStoreWithRemove
	fragments      []parse.SourceUnit
	programInfo    *analysis.ProgramInfo
	predicateIndex map[string]ast.PredicateSym
}

func newRuleEngine() *ruleEngine {
	return &ruleEngine{
		store:          factstore.NewSimpleInMemoryStore(),
		predicateIndex: make(map[string]ast.PredicateSym),
	}
}

// loadRules parses a .mg-formatted rule source and merges it into the
// engine's program, recompiling the full analyzed program (mirrors
// LoadSchemaString/rebuildProgramLocked).
func (e *ruleEngine) loadRules(source string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return fmt.Errorf("evolve: parsing drift rules: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.fragments = append(e.fragments, unit)
	return e.rebuildProgramLocked()
}

func (e *ruleEngine) rebuildProgramLocked() error {
	var clauses []ast.Clause
	var decls []ast.Decl
	for _, fragment := range e.fragments {
		clauses = append(clauses, fragment.Clauses...)
		decls = append(decls, fragment.Decls...)
	}
	programInfo, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: clauses, Decls: decls}, nil)
	if err != nil {
		return fmt.Errorf("evolve: analyzing drift rules: %w", err)
	}
	e.programInfo = programInfo
	e.predicateIndex = make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
	}
	return nil
}

// assert inserts one fact for predicate with the given typed args.
func (e *ruleEngine) assert(predicate string, args ...interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sym, ok := e.predicateIndex[predicate]
	if !ok {
		return fmt.Errorf("evolve: predicate %s is not declared in drift rules", predicate)
	}
	if len(args) != sym.Arity {
		return fmt.Errorf("evolve: predicate %s expects %d args, got %d", predicate, sym.Arity, len(args))
	}

	terms := make([]ast.BaseTerm, len(args))
	for i, raw := range args {
		term, err := toBaseTerm(raw)
		if err != nil {
			return fmt.Errorf("evolve: predicate %s arg %d: %w", predicate, i, err)
		}
		terms[i] = term
	}
	e.store.Add(ast.Atom{Predicate: sym, Args: terms})
	return nil
}

func toBaseTerm(value interface{}) (ast.BaseTerm, error) {
	switch v := value.(type) {
	case string:
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case float64:
		return ast.Float64(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, fmt.Errorf("unsupported fact argument type %T", v)
	}
}

// evaluate runs the rule program to a fixpoint over the currently asserted
// facts (mirrors RecomputeRules/AddFacts' autoEval path).
func (e *ruleEngine) evaluate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.programInfo == nil {
		return fmt.Errorf("evolve: no drift rules loaded")
	}
	_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	return err
}

// query returns every fact currently stored for predicate (base facts and
// anything a rule derived into it).
func (e *ruleEngine) query(predicate string) ([]ast.Atom, error) {
	e.mu.Lock()
	sym, ok := e.predicateIndex[predicate]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("evolve: predicate %s is not declared in drift rules", predicate)
	}

	var results []ast.Atom
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		results = append(results, atom)
		return nil
	})
	return results, err
}

// argString extracts a string-typed argument at index i from a derived
// atom, used to read back the artifact id a drift conclusion refers to.
func argString(atom ast.Atom, i int) (string, bool) {
	if i >= len(atom.Args) {
		return "", false
	}
	c, ok := atom.Args[i].(ast.Constant)
	if !ok {
		return "", false
	}
	if c.Type != ast.StringType {
		return "", false
	}
	return c.Symbol, true
}
