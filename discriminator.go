package cwgan_go

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DiscriminatorNet Abstraction for discriminator (critic) part of conditional GAN. It's simple neural network actually,
// which gets image and condition concatenated along channels axis.
type DiscriminatorNet struct {
	private *Network
}

// Discriminator Constructor for DiscriminatorNet from arbitrary layers. Last layer must produce single value per sample
func Discriminator(Layers ...*Layer) *DiscriminatorNet {
	return &DiscriminatorNet{private: &Network{
		Name:   "discriminator",
		Layers: Layers,
	}}
}

// NewDiscriminator Builds critic network
//
// concat(image, condition)(2C,H,W) => conv4x4/2(c,H/2) => conv4x4/2(2c,H/4) => flatten(2c*H/4*W/4) => linear(hidden) => linear(1)
//
// Both convolutions and first linear layer are followed by optional instance norm and leaky rectifier. No activation at the end: output is Wasserstein critic value.
func NewDiscriminator(arch Architecture, rng *rand.Rand) (*DiscriminatorNet, error) {
	if err := arch.validate(); err != nil {
		return nil, err
	}
	c := arch.CriticBase
	leaky := LeakyActivation(arch.LeakySlope)
	layers := make([]*Layer, 0, 12)
	withNorm := func(l *Layer) {
		layers = append(layers, l)
		if arch.DiscriminatorInstanceNorm {
			layers = append(layers, &Layer{Name: l.Name + "_norm", Type: LayerInstanceNorm})
		}
		layers[len(layers)-1].Activation = leaky
	}
	withNorm(&Layer{
		Name:         "conv0",
		Type:         LayerConvolutional,
		Weight:       NormRandDense(rng, arch.InitStd, c, 2*arch.Channels, 4, 4),
		Bias:         ZerosDense(1, c),
		KernelHeight: 4,
		KernelWidth:  4,
		Padding:      []int{1, 1},
		Stride:       []int{2, 2},
		Dilation:     []int{1, 1},
	})
	withNorm(&Layer{
		Name:         "conv1",
		Type:         LayerConvolutional,
		Weight:       NormRandDense(rng, arch.InitStd, 2*c, c, 4, 4),
		Bias:         ZerosDense(1, 2*c),
		KernelHeight: 4,
		KernelWidth:  4,
		Padding:      []int{1, 1},
		Stride:       []int{2, 2},
		Dilation:     []int{1, 1},
	})
	layers = append(layers, &Layer{Name: "flatten", Type: LayerFlatten})
	flat := 2 * c * (arch.Height / 4) * (arch.Width / 4)
	withNorm(&Layer{
		Name:   "fc0",
		Type:   LayerLinear,
		Weight: NormRandDense(rng, arch.InitStd, arch.CriticHidden, flat),
		Bias:   ZerosDense(1, arch.CriticHidden),
	})
	layers = append(layers, &Layer{
		Name:   "fc1",
		Type:   LayerLinear,
		Weight: NormRandDense(rng, arch.InitStd, 1, arch.CriticHidden),
		Bias:   ZerosDense(1, 1),
	})
	return Discriminator(layers...), nil
}

// Network Returns underlying network
func (net *DiscriminatorNet) Network() *Network {
	return net.private
}

// CriticPass Nodes created by single critic feedforward
type CriticPass struct {
	*Pass
	scores *gorgonia.Node
}

// Scores Returns node of shape (N) with one score per sample
func (p *CriticPass) Scores() *gorgonia.Node {
	return p.scores
}

// Fwd Initializates feedforward for provided image and condition on graph the discriminator is bound to
func (net *DiscriminatorNet) Fwd(bn *BoundNetwork, image, condition *gorgonia.Node) (*CriticPass, error) {
	if !image.Shape().Eq(condition.Shape()) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("[Discriminator] image %v and condition %v", image.Shape(), condition.Shape()))
	}
	joined, err := gorgonia.Concat(1, image, condition)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't concatenate image and condition")
	}
	pass, err := bn.Fwd(joined)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	scores, err := gorgonia.Reshape(pass.Out(), tensor.Shape{image.Shape()[0]})
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't reshape output to scores")
	}
	return &CriticPass{Pass: pass, scores: scores}, nil
}

// Tangent Initializates directional derivative of scores along 'direction' of image (condition is held fixed).
// Returns node of shape (N) and slope nodes which values must be filled (see BoundNetwork.Tangent)
func (net *DiscriminatorNet) Tangent(bn *BoundNetwork, pass *CriticPass, direction *gorgonia.Node) (*gorgonia.Node, gorgonia.Nodes, error) {
	shp := direction.Shape()
	zeros := gorgonia.NewTensor(bn.g, gorgonia.Float64, 4, gorgonia.WithShape(shp.Clone()...), gorgonia.WithName(uniqueName("condition_tangent")), gorgonia.WithValue(ZerosDense(shp...)))
	joined, err := gorgonia.Concat(1, direction, zeros)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Discriminator] Can't concatenate tangent and zero condition")
	}
	out, slopes, err := bn.Tangent(pass.Pass, joined)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Discriminator]")
	}
	tangent, err := gorgonia.Reshape(out, tensor.Shape{shp[0]})
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Discriminator] Can't reshape tangent")
	}
	return tangent, slopes, nil
}
