// Package flightmodel carries encoder and decoder calls to a remote model
// process over Apache Arrow Flight.
//
// Every call is one DoExchange round trip. The descriptor path is
// [model, op] with op "encode" or "decode". Requests and responses are
// single-row records whose columns are list<float32>:
//
//	encode request:  input (flattened 1 x steps x vocab, shape in metadata)
//	encode response: h, c
//	decode request:  input (1 x 1 x vocab), h, c
//	decode response: probs, h, c
package flightmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-s2s/internal/onehot"
)

const (
	OpEncode = "encode"
	OpDecode = "decode"

	colInput = "input"
	colProbs = "probs"
	colH     = "h"
	colC     = "c"

	metaOp    = "op"
	metaShape = "shape"

	metaLatentDim     = "latent_dim"
	metaEncoderTokens = "num_encoder_tokens"
	metaDecoderTokens = "num_decoder_tokens"
)

type column struct {
	name   string
	values []float32
}

// newRecord builds a one-row record with a list<float32> column per entry.
func newRecord(mem memory.Allocator, md arrow.Metadata, cols ...column) arrow.Record {
	fields := make([]arrow.Field, len(cols))
	arrs := make([]arrow.Array, len(cols))
	for i, c := range cols {
		lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Float32)
		vb := lb.ValueBuilder().(*array.Float32Builder)
		lb.Append(true)
		vb.AppendValues(c.values, nil)
		arrs[i] = lb.NewArray()
		lb.Release()
		fields[i] = arrow.Field{Name: c.name, Type: arrs[i].DataType()}
	}

	schema := arrow.NewSchema(fields, &md)
	rec := array.NewRecord(schema, arrs, 1)
	for _, a := range arrs {
		a.Release()
	}
	return rec
}

// listValues copies the single row of a list<float32> column.
func listValues(rec arrow.Record, name string) ([]float32, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("missing column %q", name)
	}
	col, ok := rec.Column(idx[0]).(*array.List)
	if !ok {
		return nil, fmt.Errorf("column %q: expected list<float32>, got %s", name, rec.Column(idx[0]).DataType())
	}
	if col.Len() != 1 {
		return nil, fmt.Errorf("column %q: expected 1 row, got %d", name, col.Len())
	}
	vals, ok := col.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("column %q: expected float32 values, got %s", name, col.ListValues().DataType())
	}
	start, end := col.ValueOffsets(0)
	out := make([]float32, end-start)
	copy(out, vals.Float32Values()[start:end])
	return out, nil
}

func metadataFor(op string, shape [3]int) arrow.Metadata {
	return arrow.NewMetadata(
		[]string{metaOp, metaShape},
		[]string{op, formatShape(shape)},
	)
}

func metaValue(md arrow.Metadata, key string) (string, bool) {
	i := md.FindKey(key)
	if i < 0 {
		return "", false
	}
	return md.Values()[i], true
}

func formatShape(shape [3]int) string {
	return fmt.Sprintf("%d,%d,%d", shape[0], shape[1], shape[2])
}

func parseShape(s string) ([3]int, error) {
	var shape [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return shape, fmt.Errorf("invalid shape %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return shape, fmt.Errorf("invalid shape %q", s)
		}
		shape[i] = n
	}
	return shape, nil
}

// tensorFrom rebuilds the input tensor of a request record.
func tensorFrom(rec arrow.Record) (*onehot.Tensor, error) {
	md := rec.Schema().Metadata()
	raw, ok := metaValue(md, metaShape)
	if !ok {
		return nil, fmt.Errorf("missing %q metadata", metaShape)
	}
	shape, err := parseShape(raw)
	if err != nil {
		return nil, err
	}
	data, err := listValues(rec, colInput)
	if err != nil {
		return nil, err
	}
	if len(data) != shape[0]*shape[1]*shape[2] {
		return nil, fmt.Errorf("input has %d values, shape %s needs %d", len(data), raw, shape[0]*shape[1]*shape[2])
	}
	return &onehot.Tensor{Shape: shape, Data: data}, nil
}

// Info describes the dimensions a served model expects.
type Info struct {
	LatentDim     int
	EncoderTokens int
	DecoderTokens int
}

func (i Info) metadata() arrow.Metadata {
	return arrow.NewMetadata(
		[]string{metaLatentDim, metaEncoderTokens, metaDecoderTokens},
		[]string{strconv.Itoa(i.LatentDim), strconv.Itoa(i.EncoderTokens), strconv.Itoa(i.DecoderTokens)},
	)
}

func infoFrom(md arrow.Metadata) (Info, error) {
	var info Info
	targets := []struct {
		key string
		dst *int
	}{
		{metaLatentDim, &info.LatentDim},
		{metaEncoderTokens, &info.EncoderTokens},
		{metaDecoderTokens, &info.DecoderTokens},
	}
	for _, t := range targets {
		v, ok := metaValue(md, t.key)
		if !ok {
			return info, fmt.Errorf("missing %q metadata", t.key)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return info, fmt.Errorf("invalid %q metadata: %q", t.key, v)
		}
		*t.dst = n
	}
	return info, nil
}
