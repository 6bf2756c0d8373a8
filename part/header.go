package part

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	headerPrefix = "#!"

	HeaderServerVersion = "server_ver"
	HeaderToolVersion   = "tool_ver"
	HeaderEscape        = "escape_char"
	HeaderLoose         = "loose_mode"
)

type (
	// SQLHeader is the comment block at the top of a SQL definition file.
	SQLHeader struct {
		ServerVersion string
		ToolVersion   string
		Escape        bool
		Loose         bool
	}
)

// DefaultHeader applies to files written before the header existed.
var DefaultHeader = SQLHeader{Escape: true}

func (h SQLHeader) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, kv := range [][2]string{
		{HeaderServerVersion, h.ServerVersion},
		{HeaderToolVersion, h.ToolVersion},
		{HeaderEscape, strconv.FormatBool(h.Escape)},
		{HeaderLoose, strconv.FormatBool(h.Loose)},
	} {
		b.WriteString(headerPrefix + kv[0] + ": " + kv[1] + "\n")
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// IsHeaderLine reports whether line is part of the header block.
func IsHeaderLine(line string) bool {
	return strings.HasPrefix(line, headerPrefix)
}

// Apply sets the field named by one header line. Unknown keys are ignored.
func (h *SQLHeader) Apply(line string) error {
	key, value, ok := strings.Cut(strings.TrimPrefix(line, headerPrefix), ":")
	if !ok {
		return fmt.Errorf("malformed header line %q", line)
	}
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	var err error
	switch key {
	case HeaderServerVersion:
		h.ServerVersion = value
	case HeaderToolVersion:
		h.ToolVersion = value
	case HeaderEscape:
		h.Escape, err = strconv.ParseBool(value)
	case HeaderLoose:
		h.Loose, err = strconv.ParseBool(value)
	}
	if err != nil {
		return fmt.Errorf("header %s: %w", key, err)
	}
	return nil
}

// ReadSQLFile splits a SQL definition file into its header and its statements, one per non-empty line.
func ReadSQLFile(r io.Reader) (SQLHeader, []string, error) {
	h := DefaultHeader
	var stmts []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case IsHeaderLine(line):
			if len(stmts) > 0 {
				return h, nil, fmt.Errorf("header line after statements: %q", line)
			}
			if err := h.Apply(line); err != nil {
				return h, nil, err
			}
		case strings.HasPrefix(line, "#"), strings.HasPrefix(line, "--"):
			continue
		default:
			stmts = append(stmts, line)
		}
	}
	if err := sc.Err(); err != nil {
		return h, nil, fmt.Errorf("error scanning sql file: %w", err)
	}
	return h, stmts, nil
}
