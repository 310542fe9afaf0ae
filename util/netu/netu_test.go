package netu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"grindstone.dev/grindstone/util/netu"
)

func TestResolveAddr(t *testing.T) {
	cases := [][]string{
		{":80", "http://0.0.0.0"},
		{":443", "https://0.0.0.0"},
		{":8081", "http://0.0.0.0:8081"},
		{"http://coordinator:8081", "http://coordinator:8081"},
		{"127.0.0.1:9009", "http://127.0.0.1:9009"},
	}

	for _, c := range cases {
		t.Run(c[0], func(t *testing.T) {
			url, err := netu.ResolveAddr(c[0])
			require.NoError(t, err)
			assert.Equal(t, c[1], url)
		})
	}
}

func TestNodeAddressFromEnv(t *testing.T) {
	t.Setenv(netu.HostEnv, "10.0.0.7")
	assert.Equal(t, "10.0.0.7", netu.NodeAddress())
}
