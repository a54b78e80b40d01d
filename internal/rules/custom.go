package rules

import (
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/sells-group/import-cli/internal/model"
)

const opCustom = "custom"

// maxExecutionSteps bounds a custom rule body's interpreter work so a
// runaway script cannot stall the batch loop.
const maxExecutionSteps = 100_000

// entrypoint is the function a custom rule's Starlark script must define:
// apply(value, field, row) returning a string (transform) or a bool /
// (bool, message) tuple (validate).
const entrypoint = "apply"

func (e *Engine) customTransform(r model.Rule, field, value string, row map[string]string) (string, error) {
	result, err := e.callScript(r, field, value, row)
	if err != nil {
		return "", err
	}
	s, ok := starlark.AsString(result)
	if !ok {
		return "", eris.Errorf("rules: custom transform %s returned %s, want string", r.ID, result.Type())
	}
	return s, nil
}

func (e *Engine) customValidate(r model.Rule, field, value string, row map[string]string) (bool, string, error) {
	result, err := e.callScript(r, field, value, row)
	if err != nil {
		return false, "", err
	}

	switch v := result.(type) {
	case starlark.Bool:
		return bool(v), "", nil
	case starlark.Tuple:
		if len(v) != 2 {
			return false, "", eris.Errorf("rules: custom validator %s returned %d-tuple, want (bool, message)", r.ID, len(v))
		}
		valid, ok := v[0].(starlark.Bool)
		if !ok {
			return false, "", eris.Errorf("rules: custom validator %s first element is %s, want bool", r.ID, v[0].Type())
		}
		message, _ := starlark.AsString(v[1])
		return bool(valid), message, nil
	default:
		return false, "", eris.Errorf("rules: custom validator %s returned %s, want bool or tuple", r.ID, result.Type())
	}
}

func (e *Engine) callScript(r model.Rule, field, value string, row map[string]string) (starlark.Value, error) {
	fn, err := e.compileScript(r)
	if err != nil {
		return nil, err
	}

	rowDict := starlark.NewDict(len(row))
	for k, v := range row {
		if err := rowDict.SetKey(starlark.String(k), starlark.String(v)); err != nil {
			return nil, eris.Wrap(err, "rules: build row dict")
		}
	}

	thread := &starlark.Thread{Name: "rule:" + r.ID}
	thread.SetMaxExecutionSteps(maxExecutionSteps)

	result, err := starlark.Call(thread, fn,
		starlark.Tuple{starlark.String(value), starlark.String(field), rowDict}, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: execute custom rule %s", r.ID)
	}
	return result, nil
}

func (e *Engine) compileScript(r model.Rule) (*starlark.Function, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fn, ok := e.compiled[r.ID]; ok {
		return fn, nil
	}
	if r.Script == "" {
		return nil, eris.Errorf("rules: custom rule %s has no script", r.ID)
	}

	thread := &starlark.Thread{Name: "compile:" + r.ID}
	thread.SetMaxExecutionSteps(maxExecutionSteps)
	globals, err := starlark.ExecFile(thread, r.ID+".star", r.Script, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: compile custom rule %s", r.ID)
	}

	fn, ok := globals[entrypoint].(*starlark.Function)
	if !ok {
		return nil, eris.Errorf("rules: custom rule %s does not define %s(value, field, row)", r.ID, entrypoint)
	}
	e.compiled[r.ID] = fn
	return fn, nil
}
