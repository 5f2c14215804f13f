package embedding

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Format selects how a word2vec source is decoded.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatBinary Format = "binary"
	FormatText   Format = "text"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatBinary, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("unknown embedding format %q (supported: auto, binary, text)", s)
	}
}

var gzipMagic = []byte{0x1f, 0x8b}

// vectorReader streams (word, vector) pairs from a word2vec file.
type vectorReader struct {
	r      *bufio.Reader
	closer func() error
	format Format
	count  int
	dim    int
	read   int
	buf    []byte
}

// openWord2Vec opens path, transparently un-gzipping it, reads the
// "<count> <dim>" header and settles the record format.
func openWord2Vec(path string, format Format) (*vectorReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open embedding source: %w", err)
	}

	br := bufio.NewReaderSize(f, 1<<20)
	closer := f.Close
	magic, err := br.Peek(2)
	if err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		br = bufio.NewReaderSize(zr, 1<<20)
		closer = func() error {
			zerr := zr.Close()
			if ferr := f.Close(); ferr != nil {
				return ferr
			}
			return zerr
		}
	}

	vr := &vectorReader{r: br, closer: closer, format: format}
	if err := vr.readHeader(); err != nil {
		_ = closer()
		return nil, err
	}
	if vr.format == FormatAuto {
		vr.format = vr.sniff()
	}
	return vr, nil
}

func (v *vectorReader) readHeader() error {
	line, err := v.r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("malformed header %q: want \"<count> <dim>\"", strings.TrimSpace(line))
	}
	count, err1 := strconv.Atoi(fields[0])
	dim, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || count <= 0 || dim <= 0 {
		return fmt.Errorf("malformed header %q", strings.TrimSpace(line))
	}
	v.count, v.dim = count, dim
	v.buf = make([]byte, 4*dim)
	return nil
}

// sniff decides text vs binary by checking whether the first record line
// parses as a word followed by dim numbers.
func (v *vectorReader) sniff() Format {
	peek, _ := v.r.Peek(64 << 10)
	nl := bytes.IndexByte(peek, '\n')
	if nl < 0 {
		nl = len(peek)
	}
	fields := strings.Fields(string(peek[:nl]))
	if len(fields) != v.dim+1 {
		return FormatBinary
	}
	for _, f := range fields[1:] {
		if _, err := strconv.ParseFloat(f, 64); err != nil {
			return FormatBinary
		}
	}
	return FormatText
}

// Next returns the next record or io.EOF after count records.
func (v *vectorReader) Next() (string, []float64, error) {
	if v.read >= v.count {
		return "", nil, io.EOF
	}
	var (
		word string
		vec  []float64
		err  error
	)
	if v.format == FormatText {
		word, vec, err = v.nextText()
	} else {
		word, vec, err = v.nextBinary()
	}
	if err != nil {
		return "", nil, fmt.Errorf("record %d: %w", v.read+1, err)
	}
	v.read++
	return word, vec, nil
}

func (v *vectorReader) nextBinary() (string, []float64, error) {
	word, err := v.r.ReadString(' ')
	if err != nil {
		return "", nil, unexpected(err)
	}
	// records may be separated by a newline before the next word
	word = strings.TrimLeft(strings.TrimSuffix(word, " "), "\n")
	if word == "" {
		return "", nil, errors.New("empty word")
	}
	if _, err := io.ReadFull(v.r, v.buf); err != nil {
		return "", nil, unexpected(err)
	}
	vec := make([]float64, v.dim)
	for i := range vec {
		vec[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(v.buf[4*i:])))
	}
	return word, vec, nil
}

func (v *vectorReader) nextText() (string, []float64, error) {
	line, err := v.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", nil, unexpected(err)
	}
	fields := strings.Fields(line)
	if len(fields) != v.dim+1 {
		return "", nil, fmt.Errorf("have %d values, want %d", len(fields)-1, v.dim)
	}
	vec := make([]float64, v.dim)
	for i, f := range fields[1:] {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return "", nil, fmt.Errorf("value %d: %w", i, err)
		}
		vec[i] = x
	}
	return fields[0], vec, nil
}

func (v *vectorReader) Close() error {
	return v.closer()
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
