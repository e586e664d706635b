package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValueNumbers(t *testing.T) {
	v, err := ParseValue([]byte(`[1, 1.0, 2.5e-3, -7, null, "s", true]`))
	require.NoError(t, err)

	assert.Equal(t, IRArray{
		IRInt(1),
		IRFloat(1.0),
		IRFloat(0.0025),
		IRInt(-7),
		IRNull{},
		IRString("s"),
		IRBool(true),
	}, v)
}

func TestParseValueRejectsTrailingData(t *testing.T) {
	_, err := ParseValue([]byte(`[1] [2]`))
	require.Error(t, err)

	_, err = ParseValue([]byte(`{"a":`))
	require.Error(t, err)
}

func TestParseValueIntOverflow(t *testing.T) {
	_, err := ParseValue([]byte(`99999999999999999999`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "int64")
}

func TestMarshalValueFloatsKeepFraction(t *testing.T) {
	data, err := MarshalValue(IRArray{IRFloat(1), IRFloat(0.5), IRFloat(1e21), IRNull{}})
	require.NoError(t, err)
	assert.Equal(t, `[1.0,0.5,1e+21,null]`, string(data))

	back, err := ParseValue(data)
	require.NoError(t, err)
	assert.Equal(t, IRArray{IRFloat(1), IRFloat(0.5), IRFloat(1e21), IRNull{}}, back)
}

func TestMarshalValueRejectsNaN(t *testing.T) {
	_, err := MarshalValue(IRFloat(math.NaN()))
	require.Error(t, err)

	_, err = MarshalValue(IRObject{"x": IRFloat(math.Inf(1))})
	require.Error(t, err)
}

func TestMarshalValueRoundTrip(t *testing.T) {
	original := IRObject{
		"name":  IRString("matmul"),
		"secs":  IRArray{IRFloat(0.125), IRFloat(0.25)},
		"shape": IntArray([]int64{4, 8}),
		"attrs": IRObject{"vectorize": IRBool(true)},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded IRObject
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestIRObjectUnmarshalRejectsArray(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`[1,2]`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected object")
}

func TestSortedKeysUTF16Order(t *testing.T) {
	obj := IRObject{
		"b":          IRInt(1),
		"a":          IRInt(2),
		"\uE000":     IRInt(3),
		"\U00010000": IRInt(4),
	}
	assert.Equal(t, []string{"a", "b", "\U00010000", "\uE000"}, obj.SortedKeys())
}

func TestIntsAndStrings(t *testing.T) {
	ints, err := Ints(IntArray([]int64{3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ints)

	_, err = Ints(IRArray{IRInt(1), IRString("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1]")

	strs, err := Strings(StringArray([]string{"i", "j"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"i", "j"}, strs)

	_, err = Strings(IRNull{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null")
}

func TestNumber(t *testing.T) {
	f, ok := Number(IRFloat(1.5))
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)

	f, ok = Number(IRInt(2))
	assert.True(t, ok)
	assert.Equal(t, 2.0, f)

	_, ok = Number(IRString("2"))
	assert.False(t, ok)
}

func TestIsNullAndKindOf(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(IRNull{}))
	assert.False(t, IsNull(IRArray{}))

	assert.Equal(t, "nil", KindOf(nil))
	assert.Equal(t, "float", KindOf(IRFloat(1)))
	assert.Equal(t, "object", KindOf(IRObject{}))
}

func TestIRObjectCloneIsDeep(t *testing.T) {
	orig := IRObject{"list": IRArray{IRInt(1)}, "inner": IRObject{"k": IRString("v")}}
	cp := orig.Clone()

	cp["list"].(IRArray)[0] = IRInt(99)
	cp["inner"].(IRObject)["k"] = IRString("changed")

	assert.Equal(t, IRInt(1), orig["list"].(IRArray)[0])
	assert.Equal(t, IRString("v"), orig["inner"].(IRObject)["k"])
	assert.Nil(t, IRObject(nil).Clone())
}
