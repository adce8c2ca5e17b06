package cwgan_go

import (
	"fmt"
	"hash"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/chewxy/hm"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// instanceNormEpsilon Added to variance before taking square root
const instanceNormEpsilon = 1e-5

var nodeCounter uint64

// uniqueName Gorgonia merges input nodes with equal names and shapes, so every helper node gets its own suffix
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, atomic.AddUint64(&nodeCounter, 1))
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// rowStats Normalized rows of (rows, cols) matrix and standard deviation of every row
func rowStats(x []float64, rows, cols int) ([]float64, []float64) {
	y := make([]float64, len(x))
	std := make([]float64, rows)
	for r := 0; r < rows; r++ {
		row := x[r*cols : (r+1)*cols]
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(cols)
		variance := 0.0
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(cols)
		std[r] = math.Sqrt(variance + instanceNormEpsilon)
		for c, v := range row {
			y[r*cols+c] = (v - mean) / std[r]
		}
	}
	return y, std
}

func meanOf(v []float64) float64 {
	s := 0.0
	for _, e := range v {
		s += e
	}
	return s / float64(len(v))
}

func dotMean(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s / float64(len(a))
}

// instanceNormJacobian Applies Jacobian of row normalization to d: (d - mean(d) - y*mean(y*d)) / std.
// Jacobian is symmetric, so the same product serves both gradient and tangent passes.
func instanceNormJacobian(x, d []float64, rows, cols int) []float64 {
	y, std := rowStats(x, rows, cols)
	out := make([]float64, len(x))
	for r := 0; r < rows; r++ {
		lo, hi := r*cols, (r+1)*cols
		yr, dr := y[lo:hi], d[lo:hi]
		md := meanOf(dr)
		p := dotMean(yr, dr)
		for c := range dr {
			out[lo+c] = (dr[c] - md - yr[c]*p) / std[r]
		}
	}
	return out
}

// instanceNormCurvature Gradient of <g, J(x)d> with respect to x
func instanceNormCurvature(x, d, g []float64, rows, cols int) []float64 {
	y, std := rowStats(x, rows, cols)
	out := make([]float64, len(x))
	u := make([]float64, cols)
	for r := 0; r < rows; r++ {
		lo, hi := r*cols, (r+1)*cols
		yr, dr, gr := y[lo:hi], d[lo:hi], g[lo:hi]
		md := meanOf(dr)
		for c := range dr {
			u[c] = dr[c] - md
		}
		p := dotMean(yr, u)
		q := dotMean(yr, gr)
		gu := dotMean(gr, u)
		mg := meanOf(gr)
		s2 := std[r] * std[r]
		for c := range dr {
			out[lo+c] = (-yr[c]*gu + 3*yr[c]*p*q - q*u[c] - p*(gr[c]-mg)) / s2
		}
	}
	return out
}

// matrixInputs Flat float64 data of every operand, all of them must share the same (rows, cols) shape
func matrixInputs(op gorgonia.Op, inputs ...gorgonia.Value) ([][]float64, int, int, error) {
	if len(inputs) != op.Arity() {
		return nil, 0, 0, fmt.Errorf("%v expects %d inputs, but got %d", op, op.Arity(), len(inputs))
	}
	var shp tensor.Shape
	data := make([][]float64, len(inputs))
	for i, in := range inputs {
		t, ok := in.(tensor.Tensor)
		if !ok {
			return nil, 0, 0, fmt.Errorf("%v expects tensor as input #%d, but got %T", op, i, in)
		}
		if t.Dims() != 2 {
			return nil, 0, 0, fmt.Errorf("%v expects matrix as input #%d, but got shape %v", op, i, t.Shape())
		}
		if shp == nil {
			shp = t.Shape().Clone()
		} else if !shp.Eq(t.Shape()) {
			return nil, 0, 0, fmt.Errorf("%v: shape mismatch %v vs %v", op, shp, t.Shape())
		}
		vals, err := denseData(t)
		if err != nil {
			return nil, 0, 0, errors.Wrapf(err, "%v: input #%d", op, i)
		}
		data[i] = vals
	}
	return data, shp[0], shp[1], nil
}

// matrixOp Common part of instance normalization ops: every operand and result is (rows, cols) float matrix
type matrixOp struct {
	name  string
	arity int
}

func (op matrixOp) Arity() int { return op.arity }

func (op matrixOp) Type() hm.Type {
	a := hm.TypeVariable('a')
	t := gorgonia.TensorType{Dims: 2, Of: a}
	types := make([]hm.Type, op.arity+1)
	for i := range types {
		types[i] = t
	}
	return hm.NewFnType(types...)
}

func (op matrixOp) InferShape(inputs ...gorgonia.DimSizer) (tensor.Shape, error) {
	if len(inputs) != op.arity {
		return nil, fmt.Errorf("%s expects %d inputs, but got %d", op.name, op.arity, len(inputs))
	}
	shp, ok := inputs[0].(tensor.Shape)
	if !ok {
		return nil, fmt.Errorf("%s expects shape, but got %T", op.name, inputs[0])
	}
	return shp.Clone(), nil
}

func (op matrixOp) ReturnsPtr() bool     { return false }
func (op matrixOp) CallsExtern() bool    { return false }
func (op matrixOp) OverwritesInput() int { return -1 }
func (op matrixOp) String() string       { return op.name }

func (op matrixOp) WriteHash(h hash.Hash) { fmt.Fprintf(h, "%s(eps: %g)", op.name, instanceNormEpsilon) }

func (op matrixOp) Hashcode() uint32 {
	h := fnv.New32a()
	op.WriteHash(h)
	return h.Sum32()
}

func matrixValue(data []float64, rows, cols int) gorgonia.Value {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

// instanceNormOp Normalizes every row of matrix to zero mean and unit variance (no affine parameters)
type instanceNormOp struct{ matrixOp }

func newInstanceNormOp() *instanceNormOp {
	return &instanceNormOp{matrixOp{name: "InstanceNorm", arity: 1}}
}

func (op *instanceNormOp) Do(inputs ...gorgonia.Value) (gorgonia.Value, error) {
	data, rows, cols, err := matrixInputs(op, inputs...)
	if err != nil {
		return nil, err
	}
	y, _ := rowStats(data[0], rows, cols)
	return matrixValue(y, rows, cols), nil
}

func (op *instanceNormOp) DiffWRT(inputs int) []bool { return []bool{true} }

func (op *instanceNormOp) SymDiff(inputs gorgonia.Nodes, output, grad *gorgonia.Node) (gorgonia.Nodes, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%v expects 1 input, but got %d", op, len(inputs))
	}
	dx, err := gorgonia.ApplyOp(newInstanceNormJacobianOp(), inputs[0], grad)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply instance norm jacobian")
	}
	return gorgonia.Nodes{dx}, nil
}

// instanceNormJacobianOp (x, d) -> J(x)d, where J is Jacobian of instanceNormOp at x
type instanceNormJacobianOp struct{ matrixOp }

func newInstanceNormJacobianOp() *instanceNormJacobianOp {
	return &instanceNormJacobianOp{matrixOp{name: "InstanceNormJacobian", arity: 2}}
}

func (op *instanceNormJacobianOp) Do(inputs ...gorgonia.Value) (gorgonia.Value, error) {
	data, rows, cols, err := matrixInputs(op, inputs...)
	if err != nil {
		return nil, err
	}
	return matrixValue(instanceNormJacobian(data[0], data[1], rows, cols), rows, cols), nil
}

func (op *instanceNormJacobianOp) DiffWRT(inputs int) []bool { return []bool{true, true} }

func (op *instanceNormJacobianOp) SymDiff(inputs gorgonia.Nodes, output, grad *gorgonia.Node) (gorgonia.Nodes, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%v expects 2 inputs, but got %d", op, len(inputs))
	}
	x, d := inputs[0], inputs[1]
	dx, err := gorgonia.ApplyOp(newInstanceNormCurvatureOp(), x, d, grad)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply instance norm curvature")
	}
	dd, err := gorgonia.ApplyOp(newInstanceNormJacobianOp(), x, grad)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply instance norm jacobian")
	}
	return gorgonia.Nodes{dx, dd}, nil
}

// instanceNormCurvatureOp (x, d, g) -> gradient of <g, J(x)d> with respect to x
type instanceNormCurvatureOp struct{ matrixOp }

func newInstanceNormCurvatureOp() *instanceNormCurvatureOp {
	return &instanceNormCurvatureOp{matrixOp{name: "InstanceNormCurvature", arity: 3}}
}

func (op *instanceNormCurvatureOp) Do(inputs ...gorgonia.Value) (gorgonia.Value, error) {
	data, rows, cols, err := matrixInputs(op, inputs...)
	if err != nil {
		return nil, err
	}
	return matrixValue(instanceNormCurvature(data[0], data[1], data[2], rows, cols), rows, cols), nil
}

func (op *instanceNormCurvatureOp) DiffWRT(inputs int) []bool { return make([]bool, inputs) }

func (op *instanceNormCurvatureOp) SymDiff(inputs gorgonia.Nodes, output, grad *gorgonia.Node) (gorgonia.Nodes, error) {
	return nil, fmt.Errorf("%v is not differentiable", op)
}

// instanceNorm Normalizes every row of 2D node
func instanceNorm(x *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Dims() != 2 {
		return nil, fmt.Errorf("instance norm expects matrix, but got shape %v", x.Shape())
	}
	return gorgonia.ApplyOp(newInstanceNormOp(), x)
}

// instanceNormTangent Directional derivative of instanceNorm at x along dx
func instanceNormTangent(x, dx *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Dims() != 2 || !x.Shape().Eq(dx.Shape()) {
		return nil, fmt.Errorf("instance norm tangent expects matrices of equal shape, but got %v and %v", x.Shape(), dx.Shape())
	}
	return gorgonia.ApplyOp(newInstanceNormJacobianOp(), x, dx)
}

// upsampleMatrix Scatter matrix which inserts (stride-1) zeros between pixels and pads result with 'pad' zeros on every side.
// Multiplying flattened (rows, h*w) input by this matrix gives (rows, outH*outW).
func upsampleMatrix(h, w, stride, pad int) (*tensor.Dense, int, int) {
	outH := (h-1)*stride + 1 + 2*pad
	outW := (w-1)*stride + 1 + 2*pad
	data := make([]float64, h*w*outH*outW)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			row := i*w + j
			col := (pad+i*stride)*outW + pad + j*stride
			data[row*outH*outW+col] = 1
		}
	}
	return tensor.New(tensor.WithShape(h*w, outH*outW), tensor.WithBacking(data)), outH, outW
}

// upsample Zero-insertion upsampling of (n, c, h, w) node
func upsample(x *gorgonia.Node, stride, pad int) (*gorgonia.Node, error) {
	shp := x.Shape()
	if len(shp) != 4 {
		return nil, fmt.Errorf("upsampling expects 4D input, but got shape %v", shp)
	}
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	scatter, outH, outW := upsampleMatrix(h, w, stride, pad)
	scatterNode := gorgonia.NewMatrix(x.Graph(), gorgonia.Float64, gorgonia.WithShape(scatter.Shape()...), gorgonia.WithName(uniqueName("upsample")), gorgonia.WithValue(scatter))
	flat, err := gorgonia.Reshape(x, tensor.Shape{n * c, h * w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't flatten spatial dimensions")
	}
	spread, err := gorgonia.Mul(flat, scatterNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't scatter pixels")
	}
	return gorgonia.Reshape(spread, tensor.Shape{n, c, outH, outW})
}

// addChannelBias Adds bias of shape (1, c) to every channel of (n, c, h, w) node
func addChannelBias(x, bias *gorgonia.Node) (*gorgonia.Node, error) {
	c := x.Shape()[1]
	perChannel, err := gorgonia.Reshape(bias, tensor.Shape{1, c, 1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape bias")
	}
	return gorgonia.BroadcastAdd(x, perChannel, nil, []byte{0, 2, 3})
}

// addRowBias Adds bias of shape (1, m) to every row of (n, m) node
func addRowBias(x, bias *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.BroadcastAdd(x, bias, nil, []byte{0})
}
