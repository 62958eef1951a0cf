package toolkit

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/traefik/yaegi/interp"
)

// Exports builds the yaegi symbol table that exposes this registry's tools
// to interpreted artifact code as a single callback function, the way the
// teacher's yaegi_executor.go exposes host helpers into the interpreter via
// interp.Use. A generated artifact imports "toolkit" and calls
// toolkit.CallTool(name, argsJSON) to reach a whitelisted host capability
// without the sandbox granting it any broader access (no os, no net).
func (r *Registry) Exports(ctx context.Context) interp.Exports {
	callTool := func(name, argsJSON string) (string, error) {
		var args map[string]any
		if argsJSON != "" {
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", err
			}
		}
		result, err := r.Execute(ctx, name, args)
		if err != nil {
			return "", err
		}
		return result.Result, nil
	}

	return interp.Exports{
		"toolkit/toolkit": {
			"CallTool": reflect.ValueOf(callTool),
		},
	}
}
