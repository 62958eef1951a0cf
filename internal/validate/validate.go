// Package validate implements the ValidationPipeline collaborator (C10): a
// priority-ordered list of static validators, each able to PASS, FIX, or
// FAIL a generated source file, rolled up into a weighted ValidationReport.
// Grounded on the teacher's internal/autopoiesis/tool_validation.go
// (go/ast structural checks: missing package decl, dangerous imports,
// unused imports, panic-without-recover, missing error handling) and
// internal/world/ast_treesitter.go's tree-sitter parse-and-walk pattern,
// adapted here into a complexity validator over go-tree-sitter's golang
// grammar.
package validate

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"forgecore/internal/artifact"
	"forgecore/internal/config"
	"forgecore/internal/logging"
)

// Verdict is one validator's outcome for one attempt.
type Verdict string

const (
	VerdictPass           Verdict = "PASS"
	VerdictFixed          Verdict = "FIXED"
	VerdictFail           Verdict = "FAIL"
	VerdictSkippedMissing Verdict = "SKIPPED_MISSING_TOOL"
)

// Result is one validator's finding.
type Result struct {
	Validator string
	Priority  int
	Verdict   Verdict
	Detail    string
}

// Report is the ValidationPipeline's output for one attempt.
type Report struct {
	Source       string // final source, post auto-fix
	Results      []Result
	QualityScore float64 // weighted, in [0,1]
	Passed       bool    // true iff no Result has Verdict FAIL
}

// Validator is one priority-ordered static check.
type Validator struct {
	Name     string
	Priority int
	AutoFix  bool
	Check    func(source string) (verdict Verdict, detail string, fixed string)
}

// Pipeline runs the default validator set in priority order.
type Pipeline struct {
	validators []Validator
	cfg        config.ValidateConfig
	store      *artifact.Store
}

// New builds a Pipeline with the default validator set from spec §4.8,
// ordered priority descending (syntax runs first).
func New(cfg config.ValidateConfig) *Pipeline {
	p := &Pipeline{cfg: cfg}
	p.validators = []Validator{
		{Name: "syntax", Priority: 200, AutoFix: false, Check: validateSyntax},
		{Name: "structure", Priority: 180, AutoFix: true, Check: validateStructure},
		{Name: "json-output", Priority: 150, AutoFix: false, Check: validateJSONOutput},
		{Name: "stdin-json", Priority: 140, AutoFix: false, Check: validateStdinJSON},
		{Name: "undefined-names", Priority: 120, AutoFix: false, Check: validateUndefinedNames},
		{Name: "import-order", Priority: 110, AutoFix: true, Check: validateImportOrder},
		{Name: "runtime-import-order", Priority: 100, AutoFix: true, Check: validateRuntimeImportOrder},
		{Name: "tool-call-arity", Priority: 90, AutoFix: false, Check: validateToolCallArity},
		{Name: "type-check", Priority: 80, AutoFix: false, Check: validateTypeCheckStub},
		{Name: "security", Priority: 70, AutoFix: false, Check: validateSecurity},
		{Name: "complexity", Priority: 60, AutoFix: false, Check: p.validateComplexity},
		{Name: "lint", Priority: 50, AutoFix: false, Check: p.lintValidator},
	}
	sort.SliceStable(p.validators, func(i, j int) bool { return p.validators[i].Priority > p.validators[j].Priority })
	return p
}

// Run executes the pipeline against source, re-running lower-priority
// validators once after any FIXED verdict, and aborting early if syntax
// FAILs (a subsuming failure per spec §4.8's "Execution" rule).
func (p *Pipeline) Run(source string) Report {
	current := source
	var results []Result

	for i := 0; i < len(p.validators); i++ {
		v := p.validators[i]
		verdict, detail, fixed := v.Check(current)
		results = append(results, Result{Validator: v.Name, Priority: v.Priority, Verdict: verdict, Detail: detail})

		if v.Name == "syntax" && verdict == VerdictFail {
			logging.ValidateWarn("syntax FAIL aborts the pipeline: %s", detail)
			break
		}

		if verdict == VerdictFixed {
			backup := current
			current = fixed
			regressed, rerun := p.rerunLowerPriority(backup, current, v.Priority)
			if regressed {
				logging.ValidateWarn("auto-fix from %s regressed validation, rolling back", v.Name)
				current = backup
				results[len(results)-1] = Result{Validator: v.Name, Priority: v.Priority, Verdict: VerdictFail, Detail: "auto-fix regressed lower-priority validators, rolled back"}
			} else {
				results = append(results, rerun...)
			}
		}
	}

	return Report{
		Source:       current,
		Results:      results,
		QualityScore: p.score(results),
		Passed:       !hasFail(results),
	}
}

func hasFail(results []Result) bool {
	for _, r := range results {
		if r.Verdict == VerdictFail {
			return true
		}
	}
	return false
}

// rerunLowerPriority re-checks every validator with priority below
// threshold against both the pre-fix and post-fix source, reporting
// whether the post-fix score regressed (spec IA5: auto-fix never
// decreases the ValidationReport score for any attempt).
func (p *Pipeline) rerunLowerPriority(beforeSource, afterSource string, threshold int) (regressed bool, results []Result) {
	var beforeResults []Result
	for _, v := range p.validators {
		if v.Priority >= threshold {
			continue
		}
		verdict, detail, _ := v.Check(beforeSource)
		beforeResults = append(beforeResults, Result{Validator: v.Name, Priority: v.Priority, Verdict: verdict, Detail: detail})

		verdict, detail, _ = v.Check(afterSource)
		results = append(results, Result{Validator: v.Name, Priority: v.Priority, Verdict: verdict, Detail: detail})
	}
	return p.score(results) < p.score(beforeResults), results
}

// score computes the weighted quality score from config.ValidateConfig's
// weights, giving a validator with no configured weight a fixed weight of
// 0.05.
func (p *Pipeline) score(results []Result) float64 {
	if len(results) == 0 {
		return 1.0
	}
	var total, weightSum float64
	for _, r := range results {
		w, ok := p.cfg.Weights[weightKey(r.Validator)]
		if !ok {
			w = 0.05
		}
		weightSum += w
		switch r.Verdict {
		case VerdictPass, VerdictFixed:
			total += w
		case VerdictSkippedMissing:
			total += w * 0.5
		}
	}
	if weightSum == 0 {
		return 0
	}
	return total / weightSum
}

func weightKey(validatorName string) string {
	switch validatorName {
	case "import-order", "runtime-import-order":
		return "imports"
	case "undefined-names":
		return "undefined"
	default:
		return validatorName
	}
}

func validateSyntax(source string) (Verdict, string, string) {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "generated.go", source, parser.ParseComments); err != nil {
		return VerdictFail, fmt.Sprintf("syntax error: %v", err), ""
	}
	return VerdictPass, "", ""
}

// validateStructure requires a func main() declaration; auto-fixes by
// appending a minimal main() guard calling RunTool over stdin/stdout when
// one is missing.
func validateStructure(source string) (Verdict, string, string) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", source, 0)
	if err != nil {
		return VerdictFail, "cannot check structure: unparsable source", ""
	}
	hasMain := false
	hasRunTool := false
	ast.Inspect(file, func(n ast.Node) bool {
		if fn, ok := n.(*ast.FuncDecl); ok {
			if fn.Name.Name == "main" {
				hasMain = true
			}
			if fn.Name.Name == "RunTool" {
				hasRunTool = true
			}
		}
		return true
	})
	if hasMain {
		return VerdictPass, "", ""
	}
	if !hasRunTool {
		return VerdictFail, "missing both func main() and func RunTool", ""
	}
	fixed := strings.TrimRight(source, "\n") + "\n\n" + mainGuardTemplate
	return VerdictFixed, "added missing func main() guard calling RunTool", fixed
}

const mainGuardTemplate = `func main() {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	out, err := RunTool(string(data))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(out)
}
`

// envelopeKeyRe matches either a map/struct-literal key or a `json:"..."`
// struct tag naming "result" or "error" — the two keys spec.md's stdout
// contract requires at the top level of the marshaled object.
var envelopeKeyRe = regexp.MustCompile(`(?:"(result|error)"\s*:|json:"(result|error)(?:,[^"]*)?")`)

// validateJSONOutput requires both a JSON serialization call and a literal
// "result"/"error" key reachable by it, matching spec.md's stdout contract:
// the top-level key is "result" for successful runs or "error" (string) for
// handled failures. This is a static, source-level check — it cannot prove
// the marshaled value's shape at runtime, only that the envelope key the
// Generator's systemPrompt mandates is actually present in the source.
func validateJSONOutput(source string) (Verdict, string, string) {
	if !strings.Contains(source, "json.Marshal") && !strings.Contains(source, "json.NewEncoder") {
		return VerdictFail, "no JSON serialization call (json.Marshal / json.NewEncoder) found", ""
	}
	if !envelopeKeyRe.MatchString(source) {
		return VerdictFail, `stdout envelope missing: expected a top-level "result" or "error" key`, ""
	}
	return VerdictPass, "", ""
}

func validateStdinJSON(source string) (Verdict, string, string) {
	consumesStdin := strings.Contains(source, "os.Stdin")
	if !consumesStdin {
		return VerdictPass, "no stdin consumption detected, nothing to check", ""
	}
	if strings.Contains(source, "json.Unmarshal") || strings.Contains(source, "json.NewDecoder") {
		return VerdictPass, "", ""
	}
	return VerdictFail, "reads os.Stdin but never calls json.Unmarshal/json.NewDecoder", ""
}

// validateUndefinedNames flags imports that are declared but never
// referenced, mirroring the teacher's findUsedImports check.
func validateUndefinedNames(source string) (Verdict, string, string) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", source, parser.ParseComments)
	if err != nil {
		return VerdictFail, "cannot check undefined names: unparsable source", ""
	}
	used := map[string]bool{}
	ast.Inspect(file, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if ident, ok := sel.X.(*ast.Ident); ok {
				used[ident.Name] = true
			}
		}
		return true
	})
	var unused []string
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		name := path
		if i := strings.LastIndex(path, "/"); i != -1 {
			name = path[i+1:]
		}
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if !used[name] {
			unused = append(unused, path)
		}
	}
	if len(unused) > 0 {
		return VerdictFail, fmt.Sprintf("unused imports: %s", strings.Join(unused, ", ")), ""
	}
	return VerdictPass, "", ""
}

// validateImportOrder auto-fixes by regrouping imports stdlib / third-party
// / local, separated by blank lines.
func validateImportOrder(source string) (Verdict, string, string) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", source, parser.ParseComments)
	if err != nil || file.Imports == nil {
		return VerdictPass, "", ""
	}
	groups := groupImports(file.Imports)
	wanted := append(append(append([]string{}, groups[0]...), groups[1]...), groups[2]...)
	actual := make([]string, 0, len(file.Imports))
	for _, imp := range file.Imports {
		actual = append(actual, strings.Trim(imp.Path.Value, `"`))
	}
	if sameOrder(wanted, actual) {
		return VerdictPass, "", ""
	}
	fixed := rewriteImportBlock(source, groups)
	return VerdictFixed, "regrouped imports stdlib / third-party / local", fixed
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func groupImports(imports []*ast.ImportSpec) [3][]string {
	var stdlib, thirdParty, local []string
	for _, imp := range imports {
		path := strings.Trim(imp.Path.Value, `"`)
		switch {
		case !strings.Contains(path, "."):
			stdlib = append(stdlib, path)
		case strings.HasPrefix(path, "forgecore/"):
			local = append(local, path)
		default:
			thirdParty = append(thirdParty, path)
		}
	}
	sort.Strings(stdlib)
	sort.Strings(thirdParty)
	sort.Strings(local)
	return [3][]string{stdlib, thirdParty, local}
}

func rewriteImportBlock(source string, groups [3][]string) string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", source, parser.ParseComments)
	if err != nil || len(file.Imports) == 0 {
		return source
	}
	start := fset.Position(file.Imports[0].Pos()).Line
	end := fset.Position(file.Imports[len(file.Imports)-1].End()).Line

	lines := strings.Split(source, "\n")
	var block strings.Builder
	block.WriteString("import (\n")
	for _, set := range groups {
		if len(set) == 0 {
			continue
		}
		for _, imp := range set {
			fmt.Fprintf(&block, "\t%q\n", imp)
		}
		block.WriteString("\n")
	}
	block.WriteString(")")

	// Imports may live inside a single `import (...)` block or as scattered
	// single-line `import "x"` statements; replace the whole span either way.
	importLineStart := start - 2 // back up to the `import (` line, 1-indexed -> 0-indexed -1
	if importLineStart < 0 {
		importLineStart = 0
	}
	replaced := append([]string{}, lines[:importLineStart]...)
	replaced = append(replaced, block.String())
	replaced = append(replaced, lines[end:]...)
	return strings.Join(replaced, "\n")
}

var toolRuntimeImportRe = regexp.MustCompile(`"toolkit"`)

// validateRuntimeImportOrder requires the toolkit import (when present) to
// appear after any path-setup imports (os, path/filepath), auto-fixing by
// swapping it with the last path-setup import line.
func validateRuntimeImportOrder(source string) (Verdict, string, string) {
	if !toolRuntimeImportRe.MatchString(source) {
		return VerdictPass, "", ""
	}
	lines := strings.Split(source, "\n")
	toolkitIdx, pathIdx := -1, -1
	for i, l := range lines {
		if strings.Contains(l, `"toolkit"`) {
			toolkitIdx = i
		}
		if strings.Contains(l, `"os"`) || strings.Contains(l, `"path/filepath"`) {
			pathIdx = i
		}
	}
	if toolkitIdx == -1 || pathIdx == -1 || toolkitIdx > pathIdx {
		return VerdictPass, "", ""
	}
	lines[toolkitIdx], lines[pathIdx] = lines[pathIdx], lines[toolkitIdx]
	return VerdictFixed, "moved toolkit import after path-setup imports", strings.Join(lines, "\n")
}

var toolCallRe = regexp.MustCompile(`toolkit\.CallTool\(([^)]*)\)`)

// validateToolCallArity requires every toolkit call helper invocation to be
// called with at least (string, string) positional arguments.
func validateToolCallArity(source string) (Verdict, string, string) {
	matches := toolCallRe.FindAllStringSubmatch(source, -1)
	for _, m := range matches {
		args := strings.Split(m[1], ",")
		if len(strings.TrimSpace(m[1])) == 0 || len(args) < 2 {
			return VerdictFail, fmt.Sprintf("toolkit call %q does not supply (string, string, ...) arguments", m[0]), ""
		}
	}
	return VerdictPass, "", ""
}

// validateTypeCheckStub is a conservative syntax-level stand-in for a full
// type check: it only flags code that does not parse as a complete file
// (a real type checker needs go/types with a loaded build context, out of
// scope for a sandboxed single-file artifact).
func validateTypeCheckStub(source string) (Verdict, string, string) {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "generated.go", source, parser.ParseComments); err != nil {
		return VerdictFail, fmt.Sprintf("type-check stub: parse failed: %v", err), ""
	}
	return VerdictPass, "", ""
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*"[A-Za-z0-9/+_\-]{12,}"`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{16,}`),
}

func validateSecurity(source string) (Verdict, string, string) {
	for _, re := range secretPatterns {
		if re.MatchString(source) {
			return VerdictFail, "hardcoded secret-like literal detected", ""
		}
	}
	if strings.Contains(source, "exec.Command") && !strings.Contains(source, "exec.LookPath") {
		return VerdictFail, "unchecked shelling out via os/exec.Command", ""
	}
	return VerdictPass, "", ""
}

// validateComplexity walks the source with go-tree-sitter's golang grammar
// and computes a McCabe cyclomatic complexity (branch nodes + 1) per
// function plus an approximate maintainability index, grounded on the
// teacher's TreeSitterParser.ParseGo walk-and-count pattern.
func (p *Pipeline) validateComplexity(source string) (Verdict, string, string) {
	parserInst := sitter.NewParser()
	defer parserInst.Close()
	parserInst.SetLanguage(golang.GetLanguage())

	tree, err := parserInst.ParseCtx(context.Background(), nil, []byte(source))
	if err != nil {
		return VerdictFail, fmt.Sprintf("complexity: tree-sitter parse failed: %v", err), ""
	}
	defer tree.Close()

	maxCC := 0
	var walk func(n *sitter.Node)
	branchKinds := map[string]bool{
		"if_statement": true, "for_statement": true, "expression_switch_statement": true,
		"type_switch_statement": true, "communication_case": true, "expression_case": true,
		"default_case": true,
	}
	var countBranches func(n *sitter.Node) int
	countBranches = func(n *sitter.Node) int {
		count := 0
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if branchKinds[child.Type()] {
				count++
			}
			count += countBranches(child)
		}
		return count
	}
	walk = func(n *sitter.Node) {
		if n.Type() == "function_declaration" || n.Type() == "method_declaration" {
			cc := countBranches(n) + 1
			if cc > maxCC {
				maxCC = cc
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())

	loc := strings.Count(source, "\n") + 1
	mi := 171 - 0.23*float64(maxCC) - 16.2*math.Log(float64(loc))
	if mi < 0 {
		mi = 0
	}

	if maxCC > p.cfg.MaxCC {
		return VerdictFail, fmt.Sprintf("cyclomatic complexity %d exceeds max %d", maxCC, p.cfg.MaxCC), ""
	}
	if mi < p.cfg.MinMI {
		return VerdictFail, fmt.Sprintf("maintainability index %.1f below min %.1f", mi, p.cfg.MinMI), ""
	}
	return VerdictPass, "", ""
}
