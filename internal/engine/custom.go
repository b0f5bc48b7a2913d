package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dop251/goja"

	"pagebuilder/internal/domain"
)

// forbiddenPatterns rejects code that reaches for globals the sandbox does
// not expose. It is a pattern screen, not an isolation boundary: the goja
// runtime only receives the constrained context below.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`eval\s*\(`),
	regexp.MustCompile(`Function\s*\(`),
	regexp.MustCompile(`setTimeout\s*\(`),
	regexp.MustCompile(`setInterval\s*\(`),
	regexp.MustCompile(`import\s*\(`),
	regexp.MustCompile(`require\s*\(`),
	regexp.MustCompile(`window\.`),
	regexp.MustCompile(`document\.`),
	regexp.MustCompile(`localStorage`),
	regexp.MustCompile(`sessionStorage`),
	regexp.MustCompile(`fetch\s*\(`),
	regexp.MustCompile(`XMLHttpRequest`),
	regexp.MustCompile(`\.innerHTML`),
	regexp.MustCompile(`\.outerHTML`),
	regexp.MustCompile(`\.insertAdjacentHTML`),
}

// ErrForbiddenCode is returned for custom code matching the denylist.
var ErrForbiddenCode = errors.New("Invalid custom code: contains forbidden patterns")

// ValidateCustomCode screens code against the denylist.
func ValidateCustomCode(code string) error {
	if code == "" {
		return errors.New("Custom function code is required")
	}
	for _, re := range forbiddenPatterns {
		if re.MatchString(code) {
			return ErrForbiddenCode
		}
	}
	return nil
}

func (e *Engine) customFunction(ctx context.Context, a domain.Action, ec Context) (any, error) {
	p := payload(a)
	code, _ := p["code"].(string)
	if err := ValidateCustomCode(code); err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	fn, err := vm.RunString(`(function(context) {"use strict";
const { event, element, state, params, console, document } = context;
` + code + `
})`)
	if err != nil {
		return nil, fmt.Errorf("Custom function execution failed: %v", jsError(err))
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.New("Custom function execution failed: not callable")
	}

	sandbox := vm.NewObject()
	_ = sandbox.Set("event", ec.Event)
	if ec.Element != nil {
		_ = sandbox.Set("element", ec.Element)
	} else {
		_ = sandbox.Set("element", goja.Null())
	}
	_ = sandbox.Set("state", e.State())
	params, ok := p["params"].(map[string]any)
	if !ok {
		params = map[string]any{}
	}
	_ = sandbox.Set("params", params)
	_ = sandbox.Set("console", e.consoleShim(vm))
	_ = sandbox.Set("document", e.documentShim(vm))

	ret, err := call(goja.Undefined(), sandbox)
	if err != nil {
		return nil, fmt.Errorf("Custom function execution failed: %v", jsError(err))
	}
	return settle(ret)
}

// settle unwraps a returned promise. Pending promises resolve to nil since
// the sandbox has no timers to settle them later.
func settle(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if pr, ok := v.Export().(*goja.Promise); ok {
		switch pr.State() {
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("Custom function execution failed: %v", pr.Result().Export())
		case goja.PromiseStateFulfilled:
			return pr.Result().Export(), nil
		default:
			return nil, nil
		}
	}
	return v.Export(), nil
}

func jsError(err error) any {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		return ex.Value().String()
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return ie.Value()
	}
	return err
}

func (e *Engine) consoleShim(vm *goja.Runtime) *goja.Object {
	c := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		lvl := level
		_ = c.Set(lvl, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, v := range call.Arguments {
				args[i] = v.Export()
			}
			e.console(lvl, args...)
			return goja.Undefined()
		})
	}
	return c
}

// documentShim exposes getElementById as a read-only projection of host
// nodes. The denylist rejects "document." so only code that aliases the
// object can reach it.
func (e *Engine) documentShim(vm *goja.Runtime) *goja.Object {
	d := vm.NewObject()
	_ = d.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		n, ok := e.host.Node(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(n)
	})
	return d
}
