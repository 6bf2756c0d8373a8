package sml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
)

type (
	// Point is one row of one child table as the schemaless protocols see it.
	Point struct {
		Metric    string
		Table     string
		Tags      []table.Field
		TagValues []coltype.Value
		Columns   []table.Field
		// Values[0] is the timestamp
		Values    []coltype.Value
		Precision coltype.Precision
	}

	jsonTyped struct {
		Value any    `json:"value"`
		Type  string `json:"type"`
	}

	jsonPoint struct {
		Metric    string         `json:"metric"`
		Timestamp jsonTyped      `json:"timestamp"`
		Value     jsonTyped      `json:"value"`
		Tags      map[string]any `json:"tags"`
	}
)

var (
	ErrNoFields        = errors.New("row has no non-null field")
	ErrNoTimestamp     = errors.New("row has no timestamp")
	ErrUnknownProtocol = errors.New("unknown schemaless protocol")

	measurementEscaper = strings.NewReplacer(`,`, `\,`, ` `, `\ `)
	keyEscaper         = strings.NewReplacer(`,`, `\,`, `=`, `\=`, ` `, `\ `)
)

// Encode writes p in ctx.Protocol to ctx.Buf followed by a newline. Over capacity output is a per-row error.
func Encode(ctx *codec.EncodingContext, p Point) error {
	var (
		b   []byte
		err error
	)
	switch ctx.Protocol {
	case codec.ProtocolLine:
		var s string
		s, err = Line(p)
		b = []byte(s)
	case codec.ProtocolTelnet:
		var s string
		s, err = Telnet(p)
		b = []byte(s)
	case codec.ProtocolJSON:
		b, err = JSON(p)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProtocol, ctx.Protocol)
	}
	if err != nil {
		return err
	}
	start := ctx.Buf.Len()
	if _, err = ctx.Buf.Write(b); err != nil {
		return err
	}
	if err = ctx.Buf.WriteByte('\n'); err != nil {
		ctx.Buf.Truncate(start)
		return err
	}
	return nil
}

func timestamp(p Point) (int64, error) {
	if len(p.Values) == 0 || p.Values[0].IsNull() {
		return 0, ErrNoTimestamp
	}
	return p.Values[0].Int, nil
}

// tagPairs renders name=value for every non-null tag. Tag values carry no type suffix.
func tagPairs(p Point) ([]string, error) {
	if len(p.Tags) != len(p.TagValues) {
		return nil, fmt.Errorf("%d tag values for %d tags", len(p.TagValues), len(p.Tags))
	}
	pairs := make([]string, 0, len(p.Tags))
	for i, f := range p.Tags {
		v := p.TagValues[i]
		if v.IsNull() {
			continue
		}
		if err := codec.CheckLength(f, v); err != nil {
			return nil, err
		}
		var s string
		switch v.Kind {
		case coltype.KindBool:
			s = strconv.FormatBool(v.AsBool())
		case coltype.KindInt:
			s = strconv.FormatInt(v.Int, 10)
		case coltype.KindUint:
			s = strconv.FormatUint(v.AsUint(), 10)
		case coltype.KindFloat:
			s = coltype.FormatFloat(f.Type, v.Float)
		case coltype.KindBytes:
			if f.Type == coltype.JSON {
				return nil, fmt.Errorf("%w: JSON tag %s", codec.ErrUnsupported, f.Name)
			}
			s = v.AsString()
		}
		pairs = append(pairs, keyEscaper.Replace(f.Name)+"="+keyEscaper.Replace(s))
	}
	return pairs, nil
}

// Line renders "metric,tag=v,... field=vSuffix,... timestamp".
func Line(p Point) (string, error) {
	ts, err := timestamp(p)
	if err != nil {
		return "", err
	}
	tags, err := tagPairs(p)
	if err != nil {
		return "", err
	}
	if len(p.Columns) != len(p.Values) {
		return "", fmt.Errorf("%d values for %d columns", len(p.Values), len(p.Columns))
	}
	fields := make([]string, 0, len(p.Columns))
	for i := 1; i < len(p.Columns); i++ {
		f, v := p.Columns[i], p.Values[i]
		if v.IsNull() {
			continue
		}
		if err = codec.CheckLength(f, v); err != nil {
			return "", err
		}
		c, err := codec.Lookup(f.Type)
		if err != nil {
			return "", err
		}
		s, err := c.Line(v)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Name, err)
		}
		fields = append(fields, keyEscaper.Replace(f.Name)+"="+s)
	}
	if len(fields) == 0 {
		return "", ErrNoFields
	}
	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(p.Metric))
	for _, t := range tags {
		b.WriteByte(',')
		b.WriteString(t)
	}
	b.WriteByte(' ')
	b.WriteString(strings.Join(fields, ","))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(ts, 10))
	return b.String(), nil
}

// firstValue finds the single value the telnet and json protocols carry: the first column after the timestamp.
func firstValue(p Point) (table.Field, coltype.Value, error) {
	if len(p.Columns) < 2 || len(p.Values) < 2 {
		return table.Field{}, coltype.Value{}, ErrNoFields
	}
	if p.Values[1].IsNull() {
		return table.Field{}, coltype.Value{}, ErrNoFields
	}
	if err := codec.CheckLength(p.Columns[1], p.Values[1]); err != nil {
		return table.Field{}, coltype.Value{}, err
	}
	return p.Columns[1], p.Values[1], nil
}

// Telnet renders "metric timestamp value tag=v ...". Only the first column is sent.
func Telnet(p Point) (string, error) {
	ts, err := timestamp(p)
	if err != nil {
		return "", err
	}
	f, v, err := firstValue(p)
	if err != nil {
		return "", err
	}
	c, err := codec.Lookup(f.Type)
	if err != nil {
		return "", err
	}
	val, err := c.Line(v)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", f.Name, err)
	}
	tags, err := tagPairs(p)
	if err != nil {
		return "", err
	}
	parts := append([]string{p.Metric, strconv.FormatInt(ts, 10), val}, tags...)
	return strings.Join(parts, " "), nil
}

// JSON renders one object of the structured protocol. Tags are keyed by name with the child table name under id.
func JSON(p Point) ([]byte, error) {
	ts, err := timestamp(p)
	if err != nil {
		return nil, err
	}
	f, v, err := firstValue(p)
	if err != nil {
		return nil, err
	}
	c, err := codec.Lookup(f.Type)
	if err != nil {
		return nil, err
	}
	val, typ, err := c.JSON(v)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}
	if len(p.Tags) != len(p.TagValues) {
		return nil, fmt.Errorf("%d tag values for %d tags", len(p.TagValues), len(p.Tags))
	}
	tags := make(map[string]any, len(p.Tags)+1)
	if p.Table != "" {
		tags["id"] = p.Table
	}
	for i, tf := range p.Tags {
		tv := p.TagValues[i]
		if tv.IsNull() {
			continue
		}
		if err = codec.CheckLength(tf, tv); err != nil {
			return nil, err
		}
		tc, err := codec.Lookup(tf.Type)
		if err != nil {
			return nil, err
		}
		tval, ttyp, err := tc.JSON(tv)
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", tf.Name, err)
		}
		tags[tf.Name] = jsonTyped{Value: tval, Type: ttyp}
	}
	prec := p.Precision
	if prec == "" {
		prec = coltype.Millisecond
	}
	jp := jsonPoint{
		Metric:    p.Metric,
		Timestamp: jsonTyped{Value: json.Number(strconv.FormatInt(ts, 10)), Type: string(prec)},
		Value:     jsonTyped{Value: val, Type: typ},
		Tags:      tags,
	}
	b, err := json.Marshal(jp)
	if err != nil {
		return nil, fmt.Errorf("error in json.Marshal: %w", err)
	}
	return b, nil
}

// JSONArray wraps encoded json points into the array body the schemaless endpoint takes.
func JSONArray(points [][]byte) []byte {
	return append(append([]byte{'['}, bytes.Join(points, []byte{','})...), ']')
}
