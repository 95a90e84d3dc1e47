package storage

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	sqlite "modernc.org/sqlite"
)

var registerOnce sync.Once

// registerVectorFunctions makes vec_l2 and vec_cosine available to SQLite
// connections opened after the call.
func registerVectorFunctions() {
	registerOnce.Do(func() {
		_ = sqlite.RegisterDeterministicScalarFunction("vec_l2", 2, vecL2Impl)
		_ = sqlite.RegisterDeterministicScalarFunction("vec_cosine", 2, vecCosineImpl)
	})
}

func asEmbedding(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeEmbedding(v)
	default:
		return nil, fmt.Errorf("vec: unsupported argument type %T for embedding; want BLOB", arg)
	}
}

func embeddingArgs(name string, args []driver.Value) ([]float32, []float32, error) {
	if len(args) != 2 {
		return nil, nil, fmt.Errorf("%s: expected 2 arguments, got %d", name, len(args))
	}
	a, err := asEmbedding(args[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := asEmbedding(args[1])
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// Mismatched dimensions yield NULL so rows written by a different embedding
// model drop out of the ordering instead of failing the whole query.
func vecL2Impl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, b, err := embeddingArgs("vec_l2", args)
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil || len(a) != len(b) {
		return nil, nil
	}
	return l2(a, b), nil
}

func vecCosineImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, b, err := embeddingArgs("vec_cosine", args)
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil || len(a) != len(b) {
		return nil, nil
	}
	return cosine(a, b), nil
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// encodeEmbedding packs a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vec: blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
