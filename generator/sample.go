package generator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danthegoodman1/tsmover/codec/sqltext"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
)

var ErrNoSampleRows = errors.New("sample file has no usable rows")

type (
	// SampleSource cycles over the lines of a CSV sample file. Each line is a literal list for Fields.
	SampleSource struct {
		path    string
		fields  []table.Field
		maxLen  int
		f       *os.File
		r       *bufio.Reader
	}
)

// OpenSampleSource opens path. Lines longer than maxLen bytes are discarded.
func OpenSampleSource(path string, fields []table.Field, maxLen int) (*SampleSource, error) {
	s := &SampleSource{path: path, fields: fields, maxLen: maxLen}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SampleSource) rewind() error {
	if s.f == nil {
		f, err := os.Open(s.path)
		if err != nil {
			return fmt.Errorf("error in os.Open for sample file: %w", err)
		}
		s.f = f
	} else if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("error in Seek for sample file: %w", err)
	}
	s.r = bufio.NewReader(s.f)
	return nil
}

// readLine reads one line without its terminator. A line longer than limit bytes is drained to its end and
// reported as over, with n its length in the file. io.EOF is returned once nothing is left.
func readLine(r *bufio.Reader, limit int) (line []byte, n int, over bool, err error) {
	for {
		chunk, rerr := r.ReadSlice('\n')
		n += len(chunk)
		if !over {
			if len(line)+len(chunk) > limit+2 {
				over, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if rerr == bufio.ErrBufferFull {
			continue
		}
		if rerr != nil && (rerr != io.EOF || n == 0) {
			return nil, 0, false, rerr
		}
		line = []byte(strings.TrimRight(string(line), "\r\n"))
		return line, n, over || len(line) > limit, nil
	}
}

// Next returns the next usable row, wrapping to the start of the file at the end. A full pass without a usable
// row is an error.
func (s *SampleSource) Next() ([]coltype.Value, error) {
	wrapped := false
	for {
		raw, n, over, err := readLine(s.r, s.maxLen)
		if err == io.EOF {
			if wrapped {
				return nil, fmt.Errorf("%w: %s", ErrNoSampleRows, s.path)
			}
			if err := s.rewind(); err != nil {
				return nil, err
			}
			wrapped = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error reading sample file %s: %w", s.path, err)
		}
		if over {
			logger.Info().Str("file", s.path).Int("len", n).Int("max", s.maxLen).Msg("sample row longer than the schema allows, discarding")
			continue
		}
		line := string(raw)
		if line == "" {
			continue
		}
		vals, err := sqltext.ParseValues(s.fields, line)
		if err != nil {
			logger.Info().Err(err).Str("file", s.path).Msg("discarding malformed sample row")
			continue
		}
		return vals, nil
	}
}

// Prepare reads n rows, cycling the file as needed.
func (s *SampleSource) Prepare(n int) ([][]coltype.Value, error) {
	rows := make([][]coltype.Value, n)
	for i := range rows {
		vals, err := s.Next()
		if err != nil {
			return nil, err
		}
		rows[i] = vals
	}
	return rows, nil
}

func (s *SampleSource) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// CountLines reports how many non-empty lines path holds. With sample timestamps this is the row count per table.
func CountLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("error in os.Open for sample file: %w", err)
	}
	defer f.Close()
	var (
		n int64
		r = bufio.NewReader(f)
	)
	for {
		line, _, over, err := readLine(r, 4096)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("error reading %s: %w", path, err)
		}
		if over || strings.TrimSpace(string(line)) != "" {
			n++
		}
	}
	return n, nil
}
