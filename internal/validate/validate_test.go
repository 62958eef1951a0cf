package validate

import (
	"strings"
	"testing"

	"forgecore/internal/config"
)

const validSource = `package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type input struct {
	Xs []int
}

type output struct {
	Result int `json:"result"`
}

func RunTool(inputJSON string) (string, error) {
	var in input
	if err := json.Unmarshal([]byte(inputJSON), &in); err != nil {
		return "", err
	}
	sum := 0
	for _, x := range in.Xs {
		sum += x
	}
	out := output{Result: sum}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func main() {
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

func TestRunPassesOnWellFormedSource(t *testing.T) {
	p := New(config.DefaultValidateConfig())
	report := p.Run(validSource)
	if !report.Passed {
		t.Fatalf("expected a clean source to pass, got: %+v", report.Results)
	}
	if report.QualityScore <= 0 {
		t.Fatalf("expected a positive quality score, got %f", report.QualityScore)
	}
}

func TestSyntaxFailureAbortsPipeline(t *testing.T) {
	p := New(config.DefaultValidateConfig())
	report := p.Run("package main\nfunc RunTool( {\n")
	if report.Passed {
		t.Fatal("expected syntax failure to fail the report")
	}
	if len(report.Results) != 1 || report.Results[0].Validator != "syntax" {
		t.Fatalf("expected pipeline to abort after syntax FAIL, got: %+v", report.Results)
	}
}

func TestStructureAutoFixAddsMainGuard(t *testing.T) {
	source := `package main

import (
	"encoding/json"
)

func RunTool(inputJSON string) (string, error) {
	var in map[string]int
	if err := json.Unmarshal([]byte(inputJSON), &in); err != nil {
		return "", err
	}
	data, err := json.Marshal(map[string]int{"result": 1})
	return string(data), err
}
`
	p := New(config.DefaultValidateConfig())
	report := p.Run(source)
	var structureResult *Result
	for i := range report.Results {
		if report.Results[i].Validator == "structure" {
			structureResult = &report.Results[i]
		}
	}
	if structureResult == nil {
		t.Fatal("expected a structure validator result")
	}
	if structureResult.Verdict != VerdictFixed {
		t.Fatalf("expected structure to auto-fix a missing main(), got %s: %s", structureResult.Verdict, structureResult.Detail)
	}
	if !strings.Contains(report.Source, "func main()") {
		t.Fatalf("expected fixed source to contain func main(), got: %s", report.Source)
	}
}

func TestSecurityFlagsHardcodedSecret(t *testing.T) {
	source := `package main

func RunTool(in string) (string, error) {
	apiKey := "sk-abcdefghijklmnopqrstuvwx"
	_ = apiKey
	return in, nil
}

func main() {}
`
	p := New(config.DefaultValidateConfig())
	report := p.Run(source)
	if report.Passed {
		t.Fatal("expected hardcoded secret to fail validation")
	}
}

func TestUndefinedNamesFlagsUnusedImport(t *testing.T) {
	source := `package main

import (
	"strings"
)

func RunTool(in string) (string, error) {
	return in, nil
}

func main() {}
`
	p := New(config.DefaultValidateConfig())
	report := p.Run(source)
	found := false
	for _, r := range report.Results {
		if r.Validator == "undefined-names" && r.Verdict == VerdictFail {
			found = true
		}
	}
	if !found {
		t.Fatal("expected undefined-names to flag the unused strings import")
	}
}
