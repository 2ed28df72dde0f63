package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSortsKeysAndDropsFloats(t *testing.T) {
	out, err := EncodeJSON([]byte(`{"b":1,"a":"x","c":1.5,"d":{"z":2,"y":3.3}}`))
	require.NoError(t, err)
	require.Equal(t, `{"a":"x","b":1,"d":{"z":2}}`, string(out))
}

func TestEncodeNoWhitespace(t *testing.T) {
	out, err := EncodeJSON([]byte(`{"a": [1, 2, 3]}`))
	require.NoError(t, err)
	require.Equal(t, `{"a":[1,2,3]}`, string(out))
}

func TestEncodeStable(t *testing.T) {
	raw := []byte(`{"b":2,"a":1}`)
	first, err := EncodeJSON(raw)
	require.NoError(t, err)
	second, err := EncodeJSON(first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEncodeArrayDropsFloatMembers(t *testing.T) {
	out, err := EncodeJSON([]byte(`[1, 2.2, 3]`))
	require.NoError(t, err)
	require.Equal(t, `[1,3]`, string(out))
}
