package media

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image

	PngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

const maxChunk = 1 << 30

var errCorruptPNG = errors.New("corrupt png chunk length")

// SplitJpeg is a bufio.SplitFunc for an MJPEG image2pipe stream.
// It locates the SOI and EOI markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// SplitPNG is a bufio.SplitFunc for a PNG image2pipe stream. It walks the chunk list from
// the signature to the IEND chunk, so pixel data that happens to contain a signature is safe.
func SplitPNG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, PngSignature)
	if start == -1 {
		return 0, nil, nil
	}
	pos := start + len(PngSignature)
	for {
		// [Length][Type][Data][CRC]
		if pos+8 > len(data) {
			return 0, nil, nil
		}
		length := binary.BigEndian.Uint32(data[pos:])
		if length > maxChunk {
			return 0, nil, errCorruptPNG
		}
		typ := string(data[pos+4 : pos+8])
		next := pos + 12 + int(length)
		if next > len(data) {
			return 0, nil, nil
		}
		pos = next
		if typ == "IEND" {
			return pos, data[start:pos], nil
		}
	}
}
