package cwgan_go

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// GridSpacing Gap between grid tiles in pixels
const GridSpacing = 1

// GridSpaceColor Color of gaps between grid tiles
var GridSpaceColor = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}

// ImageSink Destination of images produced during training. Name is relative path like "generated_images/00000000.png"
type ImageSink interface {
	SaveImage(name string, img image.Image) error
}

// DirImageSink Writes PNG files under Dir. Images are upscaled by Scale (nearest neighbour) when Scale > 1
type DirImageSink struct {
	Dir   string
	Scale int
}

// SaveImage Encodes image as PNG, creating parent directories when needed
func (s DirImageSink) SaveImage(name string, img image.Image) error {
	fname := filepath.Join(s.Dir, name)
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return errors.Wrap(err, "Can't create image directory")
	}
	if s.Scale > 1 {
		img = ScaleImage(img, s.Scale)
	}
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create image file")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrap(err, fmt.Sprintf("Can't encode '%s'", fname))
	}
	return f.Close()
}

// ScaleImage Upscales image by integer factor with nearest neighbour interpolation
func ScaleImage(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func toByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(v*0xff + 0.5)
}

// FormatImage Converts (C, H, W) or (1, C, H, W) tensor with values in [0;1] into image.
// Three channels give RGBA image, single channel gives Gray image. Values outside of [0;1] are clipped
func FormatImage(t *tensor.Dense) (image.Image, error) {
	shp := t.Shape()
	if len(shp) == 4 && shp[0] == 1 {
		shp = shp[1:]
	}
	if len(shp) != 3 {
		return nil, fmt.Errorf("expected (C, H, W) tensor, but got shape %v", t.Shape())
	}
	c, h, w := shp[0], shp[1], shp[2]
	data, err := denseData(t)
	if err != nil {
		return nil, err
	}
	plane := h * w
	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: toByte(data[y*w+x])})
			}
		}
		return img, nil
	case 3:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, color.RGBA{
					R: toByte(data[y*w+x]),
					G: toByte(data[plane+y*w+x]),
					B: toByte(data[2*plane+y*w+x]),
					A: 0xff,
				})
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("only 1 and 3 channels are supported, but got %d", c)
	}
}

// ImageGrid Arranges images in a grid (rows[i][j] is placed at row i, column j). All images must share size
func ImageGrid(rows [][]image.Image) (image.Image, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return image.NewRGBA(image.Rect(0, 0, GridSpacing, GridSpacing)), nil
	}
	tile := rows[0][0].Bounds()
	cols := len(rows[0])
	width := tile.Dx()*cols + (cols+1)*GridSpacing
	height := tile.Dy()*len(rows) + (len(rows)+1)*GridSpacing
	grid := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(grid, grid.Bounds(), image.NewUniform(GridSpaceColor), image.Point{}, draw.Src)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row #%d has %d images, expected %d", i, len(row), cols)
		}
		tileY := GridSpacing + i*(tile.Dy()+GridSpacing)
		for j, img := range row {
			b := img.Bounds()
			if b.Dx() != tile.Dx() || b.Dy() != tile.Dy() {
				return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("image (%d, %d) is %dx%d, expected %dx%d", i, j, b.Dx(), b.Dy(), tile.Dx(), tile.Dy()))
			}
			tileX := GridSpacing + j*(tile.Dx()+GridSpacing)
			draw.Draw(grid, image.Rect(tileX, tileY, tileX+tile.Dx(), tileY+tile.Dy()), img, b.Min, draw.Src)
		}
	}
	return grid, nil
}

// batchImages Splits (N, C, H, W) tensor into N images
func batchImages(t *tensor.Dense) ([]image.Image, error) {
	shp := t.Shape()
	if len(shp) != 4 {
		return nil, fmt.Errorf("expected (N, C, H, W) tensor, but got shape %v", shp)
	}
	data, err := denseData(t)
	if err != nil {
		return nil, err
	}
	perSample := shp[1] * shp[2] * shp[3]
	images := make([]image.Image, shp[0])
	for i := range images {
		sample := tensor.New(tensor.WithShape(shp[1], shp[2], shp[3]), tensor.WithBacking(data[i*perSample:(i+1)*perSample]))
		if images[i], err = FormatImage(sample); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't format sample #%d", i))
		}
	}
	return images, nil
}

// SnapshotGrid Builds grid where every row is 'condition | real | fake' of single sample
func SnapshotGrid(s Snapshot) (image.Image, error) {
	columns := []*tensor.Dense{s.Condition, s.Real, s.Fake}
	formatted := make([][]image.Image, len(columns))
	for i, t := range columns {
		if t == nil {
			return nil, fmt.Errorf("snapshot is incomplete")
		}
		imgs, err := batchImages(t)
		if err != nil {
			return nil, err
		}
		formatted[i] = imgs
	}
	n := len(formatted[0])
	if len(formatted[1]) != n || len(formatted[2]) != n {
		return nil, errors.Wrap(ErrShapeMismatch, "snapshot tensors have different batch sizes")
	}
	rows := make([][]image.Image, n)
	for i := range rows {
		rows[i] = []image.Image{formatted[0][i], formatted[1][i], formatted[2][i]}
	}
	return ImageGrid(rows)
}
