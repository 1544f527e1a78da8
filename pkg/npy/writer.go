package npy

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// headerAlign pads the written header so the payload starts on a 64-byte
// boundary, matching what recent NumPy emits.
const headerAlign = 64

// Encode writes shape and data as a version 1.0 little-endian f4 array.
func Encode(w io.Writer, shape []int, data []float32) error {
	n, err := numElems(shape)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: shape implies %d elements, have %d", ErrCorruptFile, n, len(data))
	}

	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }",
		DTypeF4, shapeTuple(shape))
	// magic + version + u16 length prefix
	pre := len(magic) + 2 + 2
	pad := headerAlign - (pre+len(dict)+1)%headerAlign
	if pad == headerAlign {
		pad = 0
	}
	dict += strings.Repeat(" ", pad) + "\n"
	if len(dict) > math.MaxUint16 {
		return fmt.Errorf("%w: header too long for version 1.0", ErrCorruptFile)
	}

	var hdr []byte
	hdr = append(hdr, magic...)
	hdr = append(hdr, 1, 0)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(len(dict)))
	hdr = append(hdr, dict...)
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, 0, len(data)*4)
	for _, v := range data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	_, err = w.Write(buf)
	return err
}

// Write creates path and stores shape and data as a .npy file.
func Write(path string, shape []int, data []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, shape, data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func shapeTuple(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
