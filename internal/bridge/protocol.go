package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/facereel/internal/types"
)

// Op codes understood by the python model server. Every request is
// [Length][Op][Payload]; every response is [Length][Status][Body].
const (
	opDetect   byte = 1
	opSwap     byte = 2
	opEnhance  byte = 3
	opClassify byte = 4
	opRelease  byte = 5
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxRasterSide bounds decoded dimensions so a corrupt header cannot trigger a huge allocation.
const maxRasterSide = 1 << 14

var errShortRaster = errors.New("raster payload truncated")

// writeRaster encodes img as [W][H][RGBA...] with no row padding.
func writeRaster(buf *bytes.Buffer, img *image.NRGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	binary.Write(buf, binary.BigEndian, uint32(w))
	binary.Write(buf, binary.BigEndian, uint32(h))
	for y := 0; y < h; y++ {
		start := img.PixOffset(b.Min.X, b.Min.Y+y)
		buf.Write(img.Pix[start : start+w*4])
	}
}

func readRaster(r io.Reader) (*image.NRGBA, error) {
	var dims [2]uint32
	if err := binary.Read(r, binary.BigEndian, &dims); err != nil {
		return nil, fmt.Errorf("read raster header: %w", err)
	}
	w, h := int(dims[0]), int(dims[1])
	if w <= 0 || h <= 0 || w > maxRasterSide || h > maxRasterSide {
		return nil, fmt.Errorf("invalid raster size %dx%d", w, h)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	if _, err := io.ReadFull(r, img.Pix); err != nil {
		return nil, errShortRaster
	}
	return img, nil
}

func writeBox(buf *bytes.Buffer, box types.BoundingBox) {
	binary.Write(buf, binary.BigEndian, [4]int32{int32(box.Top), int32(box.Left), int32(box.Bottom), int32(box.Right)})
}

func readBox(r io.Reader) (types.BoundingBox, error) {
	var raw [4]int32
	if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
		return types.BoundingBox{}, err
	}
	return types.BoundingBox{Top: int(raw[0]), Left: int(raw[1]), Bottom: int(raw[2]), Right: int(raw[3])}, nil
}

func writeEmbedding(buf *bytes.Buffer, emb types.Embedding) {
	binary.Write(buf, binary.BigEndian, uint32(len(emb)))
	for _, v := range emb {
		binary.Write(buf, binary.BigEndian, float32(v))
	}
}

func readEmbedding(r io.Reader) (types.Embedding, error) {
	var dim uint32
	if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
		return nil, err
	}
	if dim > 4096 {
		return nil, fmt.Errorf("embedding dimension %d too large", dim)
	}
	raw := make([]float32, dim)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, err
	}
	emb := make(types.Embedding, dim)
	for i, v := range raw {
		emb[i] = float64(v)
	}
	return emb, nil
}

// decodeFaces parses a detect response body: [NumFaces] then per face [Box][Dim][Vec].
func decodeFaces(r io.Reader) ([]types.FaceCandidate, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}
	faces := make([]types.FaceCandidate, 0, n)
	for i := uint32(0); i < n; i++ {
		box, err := readBox(r)
		if err != nil {
			return nil, fmt.Errorf("read box %d: %w", i, err)
		}
		emb, err := readEmbedding(r)
		if err != nil {
			return nil, fmt.Errorf("read embedding %d: %w", i, err)
		}
		faces = append(faces, types.FaceCandidate{Box: box, Embedding: emb})
	}
	return faces, nil
}
