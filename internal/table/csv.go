package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KaramelBytes/bmpopt/internal/utils"
)

type csvReader struct{}

func (csvReader) CanRead(filename string) bool {
	name := strings.ToLower(filename)
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".tsv")
}

func (csvReader) Read(path string) (*Frame, error) {
	return ReadCSV(path, 0)
}

// ReadCSV reads a delimited file into a frame. A zero delimiter is sniffed.
func ReadCSV(path string, delim rune) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	br := bufio.NewReader(f)
	if delim == 0 {
		delim = sniffDelimiter(path, br)
	}
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comma = delim

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return New(NameOf(path)), nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	out := New(NameOf(path), header...)
	if len(out.columns) != len(header) {
		return nil, fmt.Errorf("duplicate column in header of %s", out.Name)
	}
	line := 1
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", line+1, err)
		}
		line++
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if err := out.Append(rec...); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
	}
	return out, nil
}

// sniffDelimiter picks tab for .tsv files, otherwise the most frequent of
// ',' ';' and tab on the header line.
func sniffDelimiter(path string, br *bufio.Reader) rune {
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	head, _ := br.Peek(4096)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestN := ',', 0
	for _, c := range []rune{',', ';', '\t'} {
		if n := strings.Count(string(head), string(c)); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

// WriteCSV writes the frame with a header row, atomically.
func WriteCSV(path string, f *Frame) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(f.columns); err != nil {
		return err
	}
	for _, r := range f.rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	return utils.SafeWriteFile(path, buf.Bytes())
}
