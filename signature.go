// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"code.hybscloud.com/kont"
)

// Kind is the value kind of a parameter or return value.
type Kind uint8

const (
	KindAny Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindBytes
	KindList
	KindMap
	// KindNone marks procedures that return no value.
	KindNone
)

var kindNames = [...]string{"any", "int", "float", "string", "bool", "bytes", "list", "map", "none"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Parameter describes one positional procedure parameter.
// An Optional parameter takes Default when the call omits it.
type Parameter struct {
	Name     string
	Kind     Kind
	Optional bool
	Default  any
}

// Procedure is a procedure body. It runs on the scheduler goroutine and may
// suspend by performing Yield. args are already coerced to the kinds
// declared by the Signature: KindInt → int64, KindFloat → float64,
// KindList → []any, KindMap → map[string]any.
type Procedure func(cc CallContext, args []any) kont.Eff[any]

// Signature is the resolved, immutable description of a procedure.
type Signature struct {
	Service   string
	Procedure string
	Params    []Parameter
	Returns   Kind
	Doc       string
	Body      Procedure
}

// Name returns the qualified "Service.Procedure" name.
func (s *Signature) Name() string {
	return s.Service + "." + s.Procedure
}

// bind checks arity, fills optional parameters, and coerces args.
func (s *Signature) bind(args []any) ([]any, error) {
	if len(args) > len(s.Params) {
		return nil, fmt.Errorf("expected at most %d arguments, got %d", len(s.Params), len(args))
	}
	bound := make([]any, len(s.Params))
	for i, p := range s.Params {
		if i >= len(args) {
			if !p.Optional {
				return nil, fmt.Errorf("missing argument %q", p.Name)
			}
			bound[i] = p.Default
			continue
		}
		v, err := coerce(p.Kind, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", p.Name, err)
		}
		bound[i] = v
	}
	return bound, nil
}

func coerce(k Kind, v any) (any, error) {
	switch k {
	case KindAny:
		return v, nil
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			if uint64(n) > math.MaxInt64 {
				break
			}
			return int64(n), nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			if n > math.MaxInt64 {
				break
			}
			return int64(n), nil
		case float32:
			return integral(float64(n))
		case float64:
			return integral(n)
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint32:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case nil:
			return []byte(nil), nil
		}
	case KindList:
		switch l := v.(type) {
		case []any:
			return l, nil
		case nil:
			return []any(nil), nil
		}
	case KindMap:
		switch m := v.(type) {
		case map[string]any:
			return m, nil
		case nil:
			return map[string]any(nil), nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, k)
}

func integral(f float64) (any, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("cannot use %v as int", f)
	}
	return int64(f), nil
}

// Resolver resolves a (service, procedure) pair to its Signature.
// Unknown names yield an error matching ErrLookupFailed.
type Resolver interface {
	Resolve(service, procedure string) (Signature, error)
}

// Registry is a Resolver backed by an in-memory table.
// Safe for concurrent use; resolution returns a snapshot.
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]Signature
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]map[string]Signature)}
}

// Register adds sig. Registering the same qualified name twice returns ErrDuplicate.
func (r *Registry) Register(sig Signature) error {
	if sig.Service == "" || sig.Procedure == "" {
		return fmt.Errorf("tickrpc: register %q: empty service or procedure name", sig.Name())
	}
	if sig.Body == nil {
		return fmt.Errorf("tickrpc: register %s: nil body", sig.Name())
	}
	sig.Params = slices.Clone(sig.Params)

	r.mu.Lock()
	defer r.mu.Unlock()
	procs, ok := r.services[sig.Service]
	if !ok {
		procs = make(map[string]Signature)
		r.services[sig.Service] = procs
	}
	if _, dup := procs[sig.Procedure]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, sig.Name())
	}
	procs[sig.Procedure] = sig
	return nil
}

// Unregister removes a procedure. Continuations that already resolved it
// keep their snapshot.
func (r *Registry) Unregister(service, procedure string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	procs, ok := r.services[service]
	if !ok {
		return
	}
	delete(procs, procedure)
	if len(procs) == 0 {
		delete(r.services, service)
	}
}

// Resolve implements Resolver.
func (r *Registry) Resolve(service, procedure string) (Signature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	procs, ok := r.services[service]
	if !ok {
		return Signature{}, &LookupError{Service: service, Procedure: procedure, Reason: "service"}
	}
	sig, ok := procs[procedure]
	if !ok {
		return Signature{}, &LookupError{Service: service, Procedure: procedure, Reason: "procedure"}
	}
	return sig, nil
}

// Services returns the registered service names in sorted order.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Procedures returns the signatures registered under service, sorted by name.
func (r *Registry) Procedures(service string) []Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	procs := r.services[service]
	sigs := make([]Signature, 0, len(procs))
	for _, sig := range procs {
		sigs = append(sigs, sig)
	}
	slices.SortFunc(sigs, func(a, b Signature) int {
		switch {
		case a.Procedure < b.Procedure:
			return -1
		case a.Procedure > b.Procedure:
			return 1
		}
		return 0
	})
	return sigs
}
