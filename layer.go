package cwgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Description of single layer: parameters (shared between every graph the layer is bound to) + activation function
//
// Weight - parameters of Linear/Convolutional/TransposedConvolutional layers. Shape is (out, in) for linear layers and (out, in, kh, kw) for convolutions
// Bias - optional bias of shape (1, out)
// Activation - applied to the output of layer. Zero value means identity
// Padding, Stride - for LayerTransposedConvolutional they have meaning of transposed convolution's parameters
// ReshapeDims - per-sample shape for LayerReshape (batch dimension is prepended automatically)
// Probability - drop probability for LayerDropout
//
type Layer struct {
	Name       string
	Type       LayerType
	Weight     *tensor.Dense
	Bias       *tensor.Dense
	Activation Activation

	KernelHeight int
	KernelWidth  int
	Padding      []int
	Stride       []int
	Dilation     []int
	ReshapeDims  []int
	Probability  float64
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerTransposedConvolutional
	LayerReshape
	LayerInstanceNorm
	LayerDropout
)

func (lt LayerType) String() string {
	switch lt {
	case LayerLinear:
		return "linear"
	case LayerFlatten:
		return "flatten"
	case LayerConvolutional:
		return "conv2d"
	case LayerTransposedConvolutional:
		return "conv_transpose2d"
	case LayerReshape:
		return "reshape"
	case LayerInstanceNorm:
		return "instance_norm"
	case LayerDropout:
		return "dropout"
	default:
		return fmt.Sprintf("layer_type_%d", uint16(lt))
	}
}

var (
	allowedNoWeights = []LayerType{LayerFlatten, LayerReshape, LayerInstanceNorm, LayerDropout}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// Parameters Returns learnable tensors of layer
func (l *Layer) Parameters() []*tensor.Dense {
	params := make([]*tensor.Dense, 0, 2)
	if l.Weight != nil {
		params = append(params, l.Weight)
	}
	if l.Bias != nil {
		params = append(params, l.Bias)
	}
	return params
}

// boundLayer Layer's parameters represented as nodes of certain graph
type boundLayer struct {
	*Layer
	weightNode *gorgonia.Node
	biasNode   *gorgonia.Node
}

func bindLayer(g *gorgonia.ExprGraph, prefix string, idx int, l *Layer) (*boundLayer, error) {
	if l == nil {
		return nil, fmt.Errorf("layer #%d is nil", idx)
	}
	if l.Weight == nil && !noWeightsAllowed(l.Type) {
		return nil, fmt.Errorf("layer #%d (%s) has nil weight", idx, l.Type)
	}
	bl := &boundLayer{Layer: l}
	if l.Weight != nil {
		bl.weightNode = gorgonia.NewTensor(g, gorgonia.Float64, l.Weight.Dims(), gorgonia.WithShape(l.Weight.Shape()...), gorgonia.WithName(uniqueName(fmt.Sprintf("%s_w%d", prefix, idx))), gorgonia.WithValue(l.Weight))
	}
	if l.Bias != nil {
		bl.biasNode = gorgonia.NewTensor(g, gorgonia.Float64, l.Bias.Dims(), gorgonia.WithShape(l.Bias.Shape()...), gorgonia.WithName(uniqueName(fmt.Sprintf("%s_b%d", prefix, idx))), gorgonia.WithValue(l.Bias))
	}
	return bl, nil
}

// layerState Nodes created by feedforward of single layer
type layerState struct {
	input  *gorgonia.Node
	pre    *gorgonia.Node // non-activated output
	out    *gorgonia.Node // activated output
	norm   *gorgonia.Node // flattened input of instance norm
	mask   *gorgonia.Node // dropout mask, value is provided before each run
	maskP  float64
	layerT LayerType

	hasActivation bool
}

// normRows Shape used by instance normalization: every row is single instance (sample-channel pair for 4D input)
func normRows(shp tensor.Shape) (int, int, error) {
	switch len(shp) {
	case 2:
		return shp[0], shp[1], nil
	case 4:
		return shp[0] * shp[1], shp[2] * shp[3], nil
	default:
		return 0, 0, fmt.Errorf("instance norm supports 2D and 4D inputs only, but got shape %v", shp)
	}
}

// Fwd Feedforward input through the layer
func (l *boundLayer) Fwd(input *gorgonia.Node) (*layerState, error) {
	var err error
	state := &layerState{input: input, layerT: l.Type}
	batchSize := input.Shape()[0]
	pre := &gorgonia.Node{}
	switch l.Type {
	case LayerLinear:
		tOp, err := gorgonia.Transpose(l.weightNode)
		if err != nil {
			return nil, errors.Wrap(err, "Can't transpose weights")
		}
		pre, err = gorgonia.Mul(input, tOp)
		if err != nil {
			return nil, errors.Wrap(err, "Can't multiply input and weights")
		}
		if l.biasNode != nil {
			pre, err = addRowBias(pre, l.biasNode)
			if err != nil {
				return nil, errors.Wrap(err, "Can't add bias")
			}
		}
	case LayerConvolutional:
		pre, err = gorgonia.Conv2d(input, l.weightNode, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride, l.dilation())
		if err != nil {
			return nil, errors.Wrap(err, "Can't convolve[2D] input by kernel")
		}
		if l.biasNode != nil {
			pre, err = addChannelBias(pre, l.biasNode)
			if err != nil {
				return nil, errors.Wrap(err, "Can't add bias")
			}
		}
	case LayerTransposedConvolutional:
		pre, err = l.transposedConv(input)
		if err != nil {
			return nil, err
		}
		if l.biasNode != nil {
			pre, err = addChannelBias(pre, l.biasNode)
			if err != nil {
				return nil, errors.Wrap(err, "Can't add bias")
			}
		}
	case LayerFlatten:
		pre, err = gorgonia.Reshape(input, tensor.Shape{batchSize, input.Shape().TotalSize() / batchSize})
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten input")
		}
	case LayerReshape:
		pre, err = gorgonia.Reshape(input, append(tensor.Shape{batchSize}, l.ReshapeDims...))
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape input")
		}
	case LayerInstanceNorm:
		rows, cols, err := normRows(input.Shape())
		if err != nil {
			return nil, err
		}
		flat, err := gorgonia.Reshape(input, tensor.Shape{rows, cols})
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape input for instance norm")
		}
		state.norm = flat
		normalized, err := instanceNorm(flat)
		if err != nil {
			return nil, errors.Wrap(err, "Can't normalize input")
		}
		pre, err = gorgonia.Reshape(normalized, input.Shape().Clone())
		if err != nil {
			return nil, errors.Wrap(err, "Can't restore shape after instance norm")
		}
	case LayerDropout:
		state.maskP = l.Probability
		state.mask = gorgonia.NewTensor(input.Graph(), gorgonia.Float64, input.Dims(), gorgonia.WithShape(input.Shape().Clone()...), gorgonia.WithName(uniqueName("dropout_mask")))
		pre, err = gorgonia.HadamardProd(input, state.mask)
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply dropout mask")
		}
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", l.Type)
	}
	state.pre = pre
	state.out, err = l.Activation.Apply(pre)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply activation function to non-activated output")
	}
	return state, nil
}

// Tangent Propagates direction 'dx' of layer's input to direction of layer's non-activated output.
// Linear part of every layer type is applied without bias.
func (l *boundLayer) Tangent(state *layerState, dx *gorgonia.Node) (*gorgonia.Node, error) {
	batchSize := dx.Shape()[0]
	switch l.Type {
	case LayerLinear:
		tOp, err := gorgonia.Transpose(l.weightNode)
		if err != nil {
			return nil, errors.Wrap(err, "Can't transpose weights")
		}
		return gorgonia.Mul(dx, tOp)
	case LayerConvolutional:
		return gorgonia.Conv2d(dx, l.weightNode, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride, l.dilation())
	case LayerTransposedConvolutional:
		return l.transposedConv(dx)
	case LayerFlatten:
		return gorgonia.Reshape(dx, tensor.Shape{batchSize, dx.Shape().TotalSize() / batchSize})
	case LayerReshape:
		return gorgonia.Reshape(dx, append(tensor.Shape{batchSize}, l.ReshapeDims...))
	case LayerInstanceNorm:
		rows, cols, err := normRows(dx.Shape())
		if err != nil {
			return nil, err
		}
		flat, err := gorgonia.Reshape(dx, tensor.Shape{rows, cols})
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape tangent for instance norm")
		}
		tangent, err := instanceNormTangent(state.norm, flat)
		if err != nil {
			return nil, err
		}
		return gorgonia.Reshape(tangent, dx.Shape().Clone())
	case LayerDropout:
		return gorgonia.HadamardProd(dx, state.mask)
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", l.Type)
	}
}

// transposedConv Transposed convolution as zero-insertion upsampling followed by plain convolution.
// Kernel is stored in the layout of plain convolution: (out, in, kh, kw).
func (l *boundLayer) transposedConv(input *gorgonia.Node) (*gorgonia.Node, error) {
	stride, pad := 1, 0
	if len(l.Stride) > 0 {
		stride = l.Stride[0]
	}
	if len(l.Padding) > 0 {
		pad = l.Padding[0]
	}
	border := l.KernelHeight - 1 - pad
	if border < 0 {
		return nil, fmt.Errorf("padding %d is too large for kernel %d", pad, l.KernelHeight)
	}
	spread, err := upsample(input, stride, border)
	if err != nil {
		return nil, errors.Wrap(err, "Can't upsample input")
	}
	out, err := gorgonia.Conv2d(spread, l.weightNode, tensor.Shape{l.KernelHeight, l.KernelWidth}, []int{0, 0}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't convolve[2D] upsampled input by kernel")
	}
	return out, nil
}

func (l *boundLayer) dilation() []int {
	if len(l.Dilation) == 0 {
		return []int{1, 1}
	}
	return l.Dilation
}
