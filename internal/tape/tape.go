// Package tape scopes reverse-mode differentiation to a single loss
// evaluation. Callers build a fresh gorgonia graph per call; nothing is kept
// in a global graph between calls.
package tape

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// Softplus builds log(1 + exp(x)) elementwise in the overflow-free form
// max(x, 0) + log1p(exp(-|x|)), with max(x, 0) written as (x + |x|) / 2.
func Softplus(x *gorgonia.Node) (*gorgonia.Node, error) {
	abs, err := gorgonia.Abs(x)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(x, abs)
	if err != nil {
		return nil, err
	}
	relu, err := gorgonia.Mul(sum, gorgonia.NewConstant(0.5))
	if err != nil {
		return nil, err
	}
	negAbs, err := gorgonia.Neg(abs)
	if err != nil {
		return nil, err
	}
	exp, err := gorgonia.Exp(negAbs)
	if err != nil {
		return nil, err
	}
	tail, err := gorgonia.Log1p(exp)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(relu, tail)
}

// Backprop differentiates the scalar cost with respect to learnables, runs
// the graph once, and calls apply with the cost while the gradients are
// still bound to the learnable nodes.
func Backprop(g *gorgonia.ExprGraph, cost *gorgonia.Node, learnables []*gorgonia.Node, apply func(cost float64) error) (float64, error) {
	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		return 0, fmt.Errorf("tape: building gradient: %w", err)
	}
	var costVal gorgonia.Value
	gorgonia.Read(cost, &costVal)

	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, fmt.Errorf("tape: running graph: %w", err)
	}

	c, err := Scalar(costVal)
	if err != nil {
		return 0, err
	}
	if apply != nil {
		if err := apply(c); err != nil {
			return c, err
		}
	}
	return c, nil
}

// Forward evaluates out and returns a copy of its values, detached from the graph.
func Forward(g *gorgonia.ExprGraph, out *gorgonia.Node) ([]float64, error) {
	var outVal gorgonia.Value
	gorgonia.Read(out, &outVal)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("tape: running graph: %w", err)
	}

	switch data := outVal.Data().(type) {
	case []float64:
		return append([]float64(nil), data...), nil
	case float64:
		return []float64{data}, nil
	}
	return nil, fmt.Errorf("tape: output %v is not float64", outVal)
}

// ScalarGrad returns the gradient bound to a scalar learnable.
func ScalarGrad(n *gorgonia.Node) (float64, error) {
	gv, err := n.Grad()
	if err != nil {
		return 0, fmt.Errorf("tape: gradient of %s: %w", n.Name(), err)
	}
	return Scalar(gv)
}

// Scalar extracts a float64 from a scalar or single-element value.
func Scalar(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("tape: nil value")
	}
	switch data := v.Data().(type) {
	case float64:
		return data, nil
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
	}
	return 0, fmt.Errorf("tape: %v is not a float64 scalar", v)
}
