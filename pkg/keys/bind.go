// Calls are normalized before hashing: positional and named arguments are bound against the declared parameters
// of the computation and defaults are filled in, so f(1, 2), f(1, b=2) and f(a=1, b=2) all bind identically.

package keys

import (
	"errors"
	"fmt"

	"github.com/nobletooth/kissml/pkg/utils"
)

var ErrBind = errors.New("failed to bind arguments")

// Param declares one parameter of a computation.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
}

// Required declares a parameter every call must provide.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter that falls back to `value` when the call omits it.
func Optional(name string, value any) Param {
	return Param{Name: name, Default: value, HasDefault: true}
}

// Signature is the ordered parameter list of a computation.
type Signature struct {
	params []Param
}

// NewSignature validates that names are non-empty and unique, and that required parameters precede optional ones.
func NewSignature(params ...Param) (Signature, error) {
	seen := make(map[string]bool, len(params))
	sawDefault := false
	for _, param := range params {
		if param.Name == "" {
			return Signature{}, errors.New("parameter name must not be empty")
		}
		if seen[param.Name] {
			return Signature{}, fmt.Errorf("duplicate parameter %q", param.Name)
		}
		seen[param.Name] = true
		if sawDefault && !param.HasDefault {
			return Signature{}, fmt.Errorf("required parameter %q follows a parameter with a default", param.Name)
		}
		sawDefault = sawDefault || param.HasDefault
	}
	return Signature{params: append([]Param(nil), params...)}, nil
}

// MustSignature is NewSignature for package level declarations.
func MustSignature(params ...Param) Signature {
	signature, err := NewSignature(params...)
	if err != nil {
		panic(err)
	}
	return signature
}

// Params returns the declared parameters in order.
func (s Signature) Params() []Param {
	return append([]Param(nil), s.params...)
}

// NamedArg is an argument passed by name; see Named.
type NamedArg struct {
	Name  string
	Value any
}

// Named passes `value` for the parameter called `name`.
func Named(name string, value any) NamedArg {
	return NamedArg{Name: name, Value: value}
}

// Bound holds the arguments of one call in declared parameter order, defaults included.
type Bound struct {
	args []utils.Pair[string, any]
}

// Bind maps the call arguments to parameters. Positional arguments come first; every NamedArg after them.
func (s Signature) Bind(args ...any) (Bound, error) {
	values := make(map[string]any, len(s.params))
	position := 0
	sawNamed := false
	for _, arg := range args {
		named, isNamed := arg.(NamedArg)
		if !isNamed {
			if sawNamed {
				return Bound{}, fmt.Errorf("%w: positional argument follows a named argument", ErrBind)
			}
			if position >= len(s.params) {
				return Bound{}, fmt.Errorf("%w: takes %d arguments but more were given", ErrBind, len(s.params))
			}
			values[s.params[position].Name] = arg
			position++
			continue
		}
		sawNamed = true
		if !s.has(named.Name) {
			return Bound{}, fmt.Errorf("%w: unexpected argument %q", ErrBind, named.Name)
		}
		if _, duplicate := values[named.Name]; duplicate {
			return Bound{}, fmt.Errorf("%w: multiple values for argument %q", ErrBind, named.Name)
		}
		values[named.Name] = named.Value
	}

	bound := Bound{args: make([]utils.Pair[string, any], 0, len(s.params))}
	for _, param := range s.params {
		value, found := values[param.Name]
		if !found {
			if !param.HasDefault {
				return Bound{}, fmt.Errorf("%w: missing required argument %q", ErrBind, param.Name)
			}
			value = param.Default
		}
		bound.args = append(bound.args, utils.MakePair(param.Name, value))
	}
	return bound, nil
}

func (s Signature) has(name string) bool {
	for _, param := range s.params {
		if param.Name == name {
			return true
		}
	}
	return false
}

// Pairs returns the (name, value) pairs in declared order.
func (b Bound) Pairs() []utils.Pair[string, any] {
	return append([]utils.Pair[string, any](nil), b.args...)
}

// Get returns the bound value of a parameter.
func (b Bound) Get(name string) (any, bool) {
	for _, arg := range b.args {
		if arg.Key == name {
			return arg.Value, true
		}
	}
	return nil, false
}

func (b Bound) Len() int {
	return len(b.args)
}

// Arg returns the bound value of `name` as a T.
func Arg[T any](b Bound, name string) (T, error) {
	var zero T
	value, found := b.Get(name)
	if !found {
		return zero, fmt.Errorf("%w: no argument %q", ErrBind, name)
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: argument %q is %T, not %T", ErrBind, name, value, zero)
	}
	return typed, nil
}
