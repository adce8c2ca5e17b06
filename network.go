package cwgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers. Parameters of layers are plain tensors, so the same network could be bound to several graphs at once
//
type Network struct {
	Name   string
	Layers []*Layer
}

// Parameters Returns learnable tensors of every layer in order
func (net *Network) Parameters() []*tensor.Dense {
	params := make([]*tensor.Dense, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			params = append(params, l.Parameters()...)
		}
	}
	return params
}

// NumParameters Returns total number of scalar parameters
func (net *Network) NumParameters() int {
	total := 0
	for _, p := range net.Parameters() {
		total += p.Shape().TotalSize()
	}
	return total
}

// Bind Creates nodes for network's parameters on provided graph. Nodes share values with Network's tensors,
// so updates made by any solver on any graph are seen by all of them.
func (net *Network) Bind(g *gorgonia.ExprGraph) (*BoundNetwork, error) {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}
	if len(net.Layers) == 0 {
		return nil, fmt.Errorf("Network must have one layer atleast")
	}
	bn := &BoundNetwork{
		name:   networkName,
		g:      g,
		layers: make([]*boundLayer, len(net.Layers)),
	}
	for i, l := range net.Layers {
		bl, err := bindLayer(g, networkName, i, l)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't bind layer", networkName))
		}
		bn.layers[i] = bl
	}
	return bn, nil
}

// BoundNetwork Network which parameters are represented as nodes of certain graph
type BoundNetwork struct {
	name   string
	g      *gorgonia.ExprGraph
	layers []*boundLayer
}

// Learnables Returns learnables nodes
func (bn *BoundNetwork) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(bn.layers))
	for _, l := range bn.layers {
		if l.weightNode != nil {
			learnables = append(learnables, l.weightNode)
		}
		if l.biasNode != nil {
			learnables = append(learnables, l.biasNode)
		}
	}
	return learnables
}

// Pass Nodes created by single feedforward
type Pass struct {
	states []*layerState
	out    *gorgonia.Node
}

// Out Returns reference to output node
func (p *Pass) Out() *gorgonia.Node {
	return p.out
}

// DropoutMasks Returns mask nodes of dropout layers. Values must be provided before each run
func (p *Pass) DropoutMasks() []DropoutMask {
	masks := make([]DropoutMask, 0)
	for _, s := range p.states {
		if s.mask != nil {
			masks = append(masks, DropoutMask{Node: s.mask, Probability: s.maskP})
		}
	}
	return masks
}

// PreActivations Returns non-activated outputs of layers which have non-identity activation
func (p *Pass) PreActivations() gorgonia.Nodes {
	nodes := make(gorgonia.Nodes, 0, len(p.states))
	for _, s := range p.states {
		if s.hasActivation {
			nodes = append(nodes, s.pre)
		}
	}
	return nodes
}

// DropoutMask Mask node with its drop probability
type DropoutMask struct {
	Node        *gorgonia.Node
	Probability float64
}

// Fwd Initializates feedforward for provided input
//
// input - Input node. First dimension is considered as batch size
//
func (bn *BoundNetwork) Fwd(input *gorgonia.Node) (*Pass, error) {
	pass := &Pass{states: make([]*layerState, len(bn.layers))}
	lastActivatedLayer := input
	for i, l := range bn.layers {
		// Feedforward input through i-th layer
		state, err := l.Fwd(lastActivatedLayer)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d] Can't feedforward input", bn.name, i))
		}
		state.hasActivation = !l.Activation.IsIdentity()
		gorgonia.WithName(uniqueName(fmt.Sprintf("%s_%d", bn.name, i)))(state.pre)
		if state.hasActivation {
			gorgonia.WithName(uniqueName(fmt.Sprintf("%s_activated_%d", bn.name, i)))(state.out)
		}
		pass.states[i] = state
		lastActivatedLayer = state.out
	}
	pass.out = lastActivatedLayer
	return pass, nil
}

// Tangent Initializates forward-mode derivative of the pass along 'direction' (same shape as pass input).
// Slopes of activation functions are not derived symbolically: returned slope nodes must be filled with
// derivatives of activations evaluated at values of Pass.PreActivations() (same order).
func (bn *BoundNetwork) Tangent(pass *Pass, direction *gorgonia.Node) (*gorgonia.Node, gorgonia.Nodes, error) {
	if len(pass.states) != len(bn.layers) {
		return nil, nil, fmt.Errorf("pass has %d layers, but network has %d", len(pass.states), len(bn.layers))
	}
	slopes := make(gorgonia.Nodes, 0, len(bn.layers))
	last := direction
	for i, l := range bn.layers {
		state := pass.states[i]
		preTangent, err := l.Tangent(state, last)
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d] Can't propagate tangent", bn.name, i))
		}
		if !state.hasActivation {
			last = preTangent
			continue
		}
		if l.Activation.Derivative == nil {
			return nil, nil, fmt.Errorf("[%s, Layer #%d] activation '%s' has no derivative", bn.name, i, l.Activation.Name)
		}
		slope := gorgonia.NewTensor(bn.g, gorgonia.Float64, state.pre.Dims(), gorgonia.WithShape(state.pre.Shape().Clone()...), gorgonia.WithName(uniqueName(fmt.Sprintf("%s_slope_%d", bn.name, i))))
		slopes = append(slopes, slope)
		last, err = gorgonia.HadamardProd(preTangent, slope)
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d] Can't scale tangent by slope", bn.name, i))
		}
	}
	return last, slopes, nil
}

// Derivatives Returns derivative functions of layers which have non-identity activation (same order as Pass.PreActivations())
func (net *Network) Derivatives() []DerivativeFunc {
	derivatives := make([]DerivativeFunc, 0, len(net.Layers))
	for _, l := range net.Layers {
		if !l.Activation.IsIdentity() {
			derivatives = append(derivatives, l.Activation.Derivative)
		}
	}
	return derivatives
}
