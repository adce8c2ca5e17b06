package cwgan_go

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// NamedTensor Parameter tensor stored in checkpoint
type NamedTensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// Checkpoint Parameters of both networks at some point of training
type Checkpoint struct {
	Epoch         int
	Iteration     int
	Architecture  Architecture
	Generator     []NamedTensor
	Discriminator []NamedTensor
}

func namedParameters(net *Network) ([]NamedTensor, error) {
	named := make([]NamedTensor, 0, 2*len(net.Layers))
	for i, l := range net.Layers {
		for j, p := range l.Parameters() {
			data, err := denseData(p)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't read parameters of layer '%s'", l.Name))
			}
			backing := make([]float64, len(data))
			copy(backing, data)
			named = append(named, NamedTensor{
				Name:  fmt.Sprintf("%s.%d.%s.%d", net.Name, i, l.Name, j),
				Shape: p.Shape().Clone(),
				Data:  backing,
			})
		}
	}
	return named, nil
}

// restoreParameters Copies stored values into existing tensors, so every graph bound to network sees them
func restoreParameters(net *Network, named []NamedTensor) error {
	params := net.Parameters()
	if len(params) != len(named) {
		return fmt.Errorf("[%s] checkpoint has %d tensors, network has %d", net.Name, len(named), len(params))
	}
	for i, p := range params {
		if !p.Shape().Eq(tensor.Shape(named[i].Shape)) {
			return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("'%s': checkpoint %v, network %v", named[i].Name, named[i].Shape, p.Shape()))
		}
		data, err := denseData(p)
		if err != nil {
			return err
		}
		copy(data, named[i].Data)
	}
	return nil
}

// NewCheckpoint Captures current parameters of model
func NewCheckpoint(model *CGAN, epoch, iteration int) (*Checkpoint, error) {
	gen, err := namedParameters(model.Generator().Network())
	if err != nil {
		return nil, err
	}
	disc, err := namedParameters(model.Discriminator().Network())
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		Epoch:         epoch,
		Iteration:     iteration,
		Architecture:  model.Architecture(),
		Generator:     gen,
		Discriminator: disc,
	}, nil
}

// Save Writes checkpoint as gob stream
func (ckpt *Checkpoint) Save(fname string) error {
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return errors.Wrap(err, "Can't create checkpoint directory")
	}
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create checkpoint file")
	}
	if err := gob.NewEncoder(f).Encode(ckpt); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't encode checkpoint")
	}
	return f.Close()
}

// Restore Copies checkpoint's parameters into model
func (ckpt *Checkpoint) Restore(model *CGAN) error {
	if ckpt.Architecture != model.Architecture() {
		return errors.Wrap(ErrShapeMismatch, "checkpoint was made for different architecture")
	}
	if err := restoreParameters(model.Generator().Network(), ckpt.Generator); err != nil {
		return err
	}
	return restoreParameters(model.Discriminator().Network(), ckpt.Discriminator)
}

// LoadCheckpoint Reads checkpoint written by Checkpoint.Save
func LoadCheckpoint(fname string) (*Checkpoint, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open checkpoint")
	}
	defer f.Close()
	ckpt := &Checkpoint{}
	if err := gob.NewDecoder(f).Decode(ckpt); err != nil {
		return nil, errors.Wrap(err, "Can't decode checkpoint")
	}
	return ckpt, nil
}
