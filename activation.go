package cwgan_go

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// DefaultLeakySlope Slope of leaky rectifier for negative inputs
const DefaultLeakySlope = 0.01

// ActivationFunc Just an alias to Gorgonia'a api_gen.go - https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node) (*gorgonia.Node, error)

// DerivativeFunc Returns slope of activation function at provided pre-activation value.
// Needed for forward-mode (tangent) pass through network.
type DerivativeFunc func(x float64) float64

// Activation Pair of activation function and its derivative.
// Zero value means identity.
type Activation struct {
	Name       string
	Fn         ActivationFunc
	Derivative DerivativeFunc
}

// IsIdentity Returns true if there is no activation at all
func (a Activation) IsIdentity() bool {
	return a.Fn == nil
}

// Apply Applies activation function to provided node
func (a Activation) Apply(x *gorgonia.Node) (*gorgonia.Node, error) {
	if a.Fn == nil {
		return x, nil
	}
	return a.Fn(x)
}

func Sigmoid(a *gorgonia.Node) (*gorgonia.Node, error) { return gorgonia.Sigmoid(a) }

// LeakyRectify Returns leaky rectifier: x for x >= 0 and slope*x otherwise
func LeakyRectify(slope float64) ActivationFunc {
	return func(a *gorgonia.Node) (*gorgonia.Node, error) {
		return gorgonia.LeakyRelu(a, slope)
	}
}

// LeakyActivation Leaky rectifier with its derivative
func LeakyActivation(slope float64) Activation {
	return Activation{
		Name: fmt.Sprintf("leaky_relu(%g)", slope),
		Fn:   LeakyRectify(slope),
		Derivative: func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return slope
		},
	}
}

// SigmoidActivation Sigmoid with its derivative
func SigmoidActivation() Activation {
	return Activation{
		Name: "sigmoid",
		Fn:   Sigmoid,
		Derivative: func(x float64) float64 {
			s := sigmoid(x)
			return s * (1 - s)
		},
	}
}
