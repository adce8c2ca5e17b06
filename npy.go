package cwgan_go

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gorgonia.org/tensor"
)

// LoadDNIM Reads DNIM archive: NumPy array of shape (N, 2, C, H, W) where [:, 0] are day images and [:, 1] are night images.
// Float arrays are taken as is, uint8 arrays are scaled to [0;1].
func LoadDNIM(fname string) (*TrainSet, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open DNIM archive")
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read NumPy header")
	}
	shp := r.Header.Descr.Shape
	if len(shp) != 5 || shp[1] != 2 {
		return nil, fmt.Errorf("expected array of shape (N, 2, C, H, W), but got %v", shp)
	}
	if r.Header.Descr.Fortran {
		return nil, fmt.Errorf("fortran-ordered arrays are not supported")
	}
	if shp[0] == 0 {
		return nil, ErrEmptyDataset
	}
	data, err := readFloat64s(r)
	if err != nil {
		return nil, err
	}
	n, c, h, w := shp[0], shp[2], shp[3], shp[4]
	perImage := c * h * w
	if len(data) != n*2*perImage {
		return nil, fmt.Errorf("archive has %d values, but header declares %d", len(data), n*2*perImage)
	}
	days := make([]float64, n*perImage)
	nights := make([]float64, n*perImage)
	for i := 0; i < n; i++ {
		copy(days[i*perImage:(i+1)*perImage], data[(2*i)*perImage:(2*i+1)*perImage])
		copy(nights[i*perImage:(i+1)*perImage], data[(2*i+1)*perImage:(2*i+2)*perImage])
	}
	return NewTrainSet(
		tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(days)),
		tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(nights)),
	)
}

func readFloat64s(r *npyio.Reader) ([]float64, error) {
	descr := r.Header.Descr.Type
	switch {
	case strings.HasSuffix(descr, "f8"):
		var data []float64
		if err := r.Read(&data); err != nil {
			return nil, errors.Wrap(err, "Can't read float64 data")
		}
		return data, nil
	case strings.HasSuffix(descr, "f4"):
		var raw []float32
		if err := r.Read(&raw); err != nil {
			return nil, errors.Wrap(err, "Can't read float32 data")
		}
		data := make([]float64, len(raw))
		for i, v := range raw {
			data[i] = float64(v)
		}
		return data, nil
	case strings.HasSuffix(descr, "u1"):
		var raw []uint8
		if err := r.Read(&raw); err != nil {
			return nil, errors.Wrap(err, "Can't read uint8 data")
		}
		data := make([]float64, len(raw))
		for i, v := range raw {
			data[i] = float64(v) / 255.0
		}
		return data, nil
	default:
		return nil, fmt.Errorf("NumPy dtype '%s' is not supported", descr)
	}
}
