package database_test

import (
	"encoding/base64"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/testutil"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func mustWorkload(t *testing.T, mod *ir.Module) *database.Workload {
	t.Helper()
	w, err := database.NewWorkload(mod)
	require.NoError(t, err)
	return w
}

func TestWorkloadAsJSONGolden(t *testing.T) {
	v, err := mustWorkload(t, testutil.Matmul(16)).AsJSON()
	require.NoError(t, err)

	data, err := ir.MarshalValue(v)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "workload_matmul16", data)
}

func TestWorkloadRoundTrip(t *testing.T) {
	mod := testutil.Matmul(16)
	mod.Funcs[0].Attrs = ir.IRObject{"global_symbol": ir.IRString("main")}
	w := mustWorkload(t, mod)

	v, err := w.AsJSON()
	require.NoError(t, err)

	decoded, err := database.WorkloadFromJSON(v)
	require.NoError(t, err)
	assert.Equal(t, w.Hash, decoded.Hash)
	assert.True(t, w.Equal(decoded))

	original, err := ir.SaveJSON(w.Mod)
	require.NoError(t, err)
	again, err := ir.SaveJSON(decoded.Mod)
	require.NoError(t, err)
	assert.Equal(t, original, again)
}

func TestWorkloadWithHashIsTrusted(t *testing.T) {
	var fake ir.Hash
	fake[0] = 0xff
	w := database.NewWorkloadWithHash(testutil.Matmul(16), fake)
	assert.Equal(t, fake, w.Hash)
	assert.False(t, w.Equal(mustWorkload(t, testutil.Matmul(16))))
}

func TestWorkloadEqualIsByHash(t *testing.T) {
	a := mustWorkload(t, testutil.Matmul(16))
	b := mustWorkload(t, testutil.Matmul(16))
	assert.NotSame(t, a.Mod, b.Mod)
	assert.True(t, a.Equal(b))

	var nilWorkload *database.Workload
	assert.False(t, a.Equal(nilWorkload))
}

// Every single-bit change to the serialized module must be rejected.
func TestWorkloadFromJSONDetectsEveryFlippedByte(t *testing.T) {
	w := mustWorkload(t, testutil.Matmul(16))
	data, err := ir.SaveJSON(w.Mod)
	require.NoError(t, err)

	for i := range data {
		flipped := append([]byte(nil), data...)
		flipped[i] ^= 0x01
		v := ir.IRArray{
			ir.IRString(w.Hash.String()),
			ir.IRString(base64.StdEncoding.EncodeToString(flipped)),
		}
		_, err := database.WorkloadFromJSON(v)
		require.Error(t, err, "byte %d (%q) flip went undetected", i, data[i])
		require.True(t, database.IsCorruptionError(err), "byte %d: %v", i, err)
	}
}

func TestWorkloadFromJSONDetectsEveryChangedChar(t *testing.T) {
	w := mustWorkload(t, testutil.Matmul(16))
	v, err := w.AsJSON()
	require.NoError(t, err)
	encoded := string(v.(ir.IRArray)[1].(ir.IRString))

	for i := range encoded {
		b := []byte(encoded)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		_, err := database.WorkloadFromJSON(ir.IRArray{ir.IRString(w.Hash.String()), ir.IRString(b)})
		require.Error(t, err, "char %d went undetected", i)
		require.True(t, database.IsCorruptionError(err), "char %d: %v", i, err)
	}
}

func TestWorkloadFromJSONHashMismatch(t *testing.T) {
	v, err := mustWorkload(t, testutil.Matmul(16)).AsJSON()
	require.NoError(t, err)
	other := mustWorkload(t, testutil.Matmul(32))

	arr := v.(ir.IRArray)
	arr[0] = ir.IRString(other.Hash.String())
	_, err = database.WorkloadFromJSON(arr)
	require.Error(t, err)
	assert.True(t, database.IsCorruptionError(err))
	assert.Contains(t, err.Error(), "hash mismatch")

	var de *database.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, arr, de.Raw)
}

func TestWorkloadFromJSONMalformed(t *testing.T) {
	tests := []struct {
		name  string
		value ir.IRValue
	}{
		{"not array", ir.IRObject{}},
		{"one element", ir.IRArray{ir.IRString("abc")}},
		{"three elements", ir.IRArray{ir.IRString("a"), ir.IRString("b"), ir.IRString("c")}},
		{"hash not string", ir.IRArray{ir.IRInt(1), ir.IRString("e30=")}},
		{"module not string", ir.IRArray{ir.IRString("abc"), ir.IRNull{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := database.WorkloadFromJSON(tt.value)
			require.Error(t, err)
			assert.True(t, database.IsMalformedRecordError(err), "got %v", err)
			assert.False(t, database.IsCorruptionError(err))
		})
	}
}

func TestDecodeErrorRawString(t *testing.T) {
	_, err := database.WorkloadFromJSON(ir.IRArray{ir.IRString("0123456789")})
	var de *database.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, `["0123456789"]`, de.RawString(0))
	assert.Equal(t, `["012...`, de.RawString(5))
}
