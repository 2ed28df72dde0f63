package mxid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRecomposeRoundTrip(t *testing.T) {
	cases := []string{
		"@alice:example.com",
		"@alice:example.com:8448",
		"!roomid:example.com",
		"$eventid:example.com",
		"#alias:EXAMPLE.com",
		"@bob",
	}
	for _, s := range cases {
		id, err := Parse(s, true)
		require.NoError(t, err, s)
		require.Equal(t, s, Recompose(id), s)
	}
}

func TestParseBareLocalpart(t *testing.T) {
	id, err := Parse("alice", true)
	require.NoError(t, err)
	require.Equal(t, SigilNone, id.Sigil)
	require.Equal(t, "alice", id.Local)

	_, err = Parse("alice", false)
	require.Error(t, err)
}

func TestServerPartEqualsDefaultPort(t *testing.T) {
	id, err := Parse("@alice:example.com", true)
	require.NoError(t, err)
	require.True(t, ServerPartEquals(id.Server, "example.com:443", 443))
	require.True(t, ServerPartEquals(id.Server, "EXAMPLE.com", 443))
	require.False(t, ServerPartEquals(id.Server, "example.com:8448", 443))
}

func TestValidLocalpart(t *testing.T) {
	require.True(t, ValidLocalpart("alice.smith_01=/-"))
	require.False(t, ValidLocalpart("Alice"))
	require.False(t, ValidLocalpart(""))
}

func TestMalformedRejected(t *testing.T) {
	_, err := Parse("@:example.com", true)
	require.Error(t, err)

	_, err = Parse("", true)
	require.Error(t, err)
}
