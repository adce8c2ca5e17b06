package cwgan_go

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// GeneratorNet Abstraction for generator part of conditional GAN: encoder-decoder which maps condition image to synthetic target image
type GeneratorNet struct {
	private *Network
}

// Generator Constructor for GeneratorNet from arbitrary layers
func Generator(Layers ...*Layer) *GeneratorNet {
	return &GeneratorNet{private: &Network{
		Name:   "generator",
		Layers: Layers,
	}}
}

// NewGenerator Builds encoder-decoder generator
//
// input(C,H,W) => conv3x3(b,H,W) => conv4x4/2(2b,H/2) => conv4x4/2(4b,H/4) => conv4x4/2(8b,H/8)
//              => convT4x4/2(4b,H/4) => convT4x4/2(2b,H/2) => convT4x4/2(b,H) => conv1x1(C,H,W) => sigmoid
//
// Every stage except the last one is followed by optional instance norm and leaky rectifier, encoder stages by dropout too.
func NewGenerator(arch Architecture, rng *rand.Rand) (*GeneratorNet, error) {
	if err := arch.validate(); err != nil {
		return nil, err
	}
	b := arch.GeneratorBase
	layers := make([]*Layer, 0, 32)
	stage := func(name string, kind LayerType, in, out, kernel, stride, pad int, dropout bool) {
		conv := &Layer{
			Name:         name,
			Type:         kind,
			Weight:       NormRandDense(rng, arch.InitStd, out, in, kernel, kernel),
			Bias:         ZerosDense(1, out),
			KernelHeight: kernel,
			KernelWidth:  kernel,
			Padding:      []int{pad, pad},
			Stride:       []int{stride, stride},
			Dilation:     []int{1, 1},
		}
		layers = append(layers, conv)
		if arch.GeneratorInstanceNorm {
			layers = append(layers, &Layer{Name: name + "_norm", Type: LayerInstanceNorm})
		}
		// Activation goes to the last layer of stage
		layers[len(layers)-1].Activation = LeakyActivation(arch.LeakySlope)
		if dropout && arch.GeneratorDropout > 0 {
			layers = append(layers, &Layer{Name: name + "_dropout", Type: LayerDropout, Probability: arch.GeneratorDropout})
		}
	}
	stage("enc0", LayerConvolutional, arch.Channels, b, 3, 1, 1, true)
	stage("enc1", LayerConvolutional, b, 2*b, 4, 2, 1, true)
	stage("enc2", LayerConvolutional, 2*b, 4*b, 4, 2, 1, true)
	stage("enc3", LayerConvolutional, 4*b, 8*b, 4, 2, 1, true)
	stage("dec0", LayerTransposedConvolutional, 8*b, 4*b, 4, 2, 1, false)
	stage("dec1", LayerTransposedConvolutional, 4*b, 2*b, 4, 2, 1, false)
	stage("dec2", LayerTransposedConvolutional, 2*b, b, 4, 2, 1, false)
	layers = append(layers, &Layer{
		Name:         "out",
		Type:         LayerConvolutional,
		Weight:       NormRandDense(rng, arch.InitStd, arch.Channels, b, 1, 1),
		Bias:         ZerosDense(1, arch.Channels),
		Activation:   SigmoidActivation(),
		KernelHeight: 1,
		KernelWidth:  1,
		Padding:      []int{0, 0},
		Stride:       []int{1, 1},
		Dilation:     []int{1, 1},
	})
	return Generator(layers...), nil
}

// Network Returns underlying network
func (net *GeneratorNet) Network() *Network {
	return net.private
}

// Fwd Initializates feedforward for provided condition on graph the generator is bound to
func (net *GeneratorNet) Fwd(bn *BoundNetwork, condition *gorgonia.Node) (*Pass, error) {
	if condition.Dims() != 4 {
		return nil, fmt.Errorf("[Generator] condition must be 4D (N, C, H, W), but got shape %v", condition.Shape())
	}
	pass, err := bn.Fwd(condition)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return pass, nil
}
