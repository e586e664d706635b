package ir

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestSaveJSONGolden(t *testing.T) {
	data, err := SaveJSON(matmulModule())
	require.NoError(t, err)
	newGoldie(t).Assert(t, "matmul_module", data)
}

func TestStructuralHashGolden(t *testing.T) {
	h, err := StructuralHash(matmulModule())
	require.NoError(t, err)
	newGoldie(t).Assert(t, "matmul_hash", []byte(h.String()))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	mod := matmulModule()
	mod.Funcs[0].Attrs = IRObject{"global_symbol": IRString("main")}
	mod.Funcs[0].Blocks[0].Annotations = IRObject{"auto_unroll": IRInt(16)}
	mod.Funcs[0].Preprocs = []Preproc{{Buffer: "B", From: []int64{64, 64}, To: []int64{16, 64, 4}}}

	data, err := SaveJSON(mod)
	require.NoError(t, err)

	loaded, err := LoadJSON(data)
	require.NoError(t, err)
	assert.Equal(t, mod, loaded)

	again, err := SaveJSON(loaded)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestLoadJSONNormalizesEmptyMaps(t *testing.T) {
	data, err := SaveJSON(matmulModule())
	require.NoError(t, err)

	loaded, err := LoadJSON(data)
	require.NoError(t, err)
	assert.Nil(t, loaded.Funcs[0].Attrs)
	assert.Nil(t, loaded.Funcs[0].Blocks[0].Annotations)
	assert.Nil(t, loaded.Funcs[0].Preprocs)
}

func TestLoadJSONErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `{funcs`, "LoadJSON"},
		{"not an object", `[1]`, "expected object"},
		{"funcs not array", `{"funcs":1}`, "funcs: expected array"},
		{"bad extent", `{"funcs":[{"name":"main","blocks":[{"name":"b","loops":[{"var":"i","extent":"4","kind":"serial"}]}]}]}`, "extent"},
		{"invalid module", `{"funcs":[]}`, "invalid module"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadJSON([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStructuralHashIgnoresFuncOrder(t *testing.T) {
	a := &Module{Funcs: []*PrimFunc{{Name: "f"}, {Name: "g"}}}
	b := &Module{Funcs: []*PrimFunc{{Name: "g"}, {Name: "f"}}}
	assert.Equal(t, MustStructuralHash(a), MustStructuralHash(b))
}

func TestStructuralHashSensitiveToStructure(t *testing.T) {
	base := MustStructuralHash(matmulModule())

	changed := matmulModule()
	changed.Funcs[0].Blocks[0].Loops[2].Kind = LoopUnrolled
	assert.NotEqual(t, base, MustStructuralHash(changed))

	same := matmulModule()
	assert.Equal(t, base, MustStructuralHash(same))
	assert.False(t, base.IsZero())
}

func TestParseHash(t *testing.T) {
	h := MustStructuralHash(matmulModule())
	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Len(t, h.String(), 64)

	_, err = ParseHash("abc")
	require.Error(t, err)

	_, err = ParseHash(string(make([]byte, 64)))
	require.Error(t, err)
}

func TestStructuralHashNilModule(t *testing.T) {
	_, err := StructuralHash(nil)
	require.Error(t, err)
	_, err = SaveJSON(nil)
	require.Error(t, err)
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	data, err := SaveJSON(matmulModule())
	require.NoError(t, err)

	for _, renamed := range []string{`"attrs"`, `"preprocs"`, `"annotations"`, `"dtype"`, `"kind"`} {
		t.Run(renamed, func(t *testing.T) {
			corrupt := strings.Replace(string(data), renamed, `"x`+renamed[1:], 1)
			_, err := LoadJSON([]byte(corrupt))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unknown field")
		})
	}
}
