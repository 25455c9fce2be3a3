// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package hlc_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/hlc"
	"github.com/stretchr/testify/require"
)

func TestGlobalAdvances(t *testing.T) {
	g := hlc.New()

	first, err := g.Get()
	require.NoError(t, err)

	second, err := g.Get()
	require.NoError(t, err)

	// The global clock must strictly advance between reads.
	require.Equal(t, 1, second.Compare(first))
	require.Equal(t, -1, first.Compare(second))
	require.Equal(t, 0, first.Compare(first))
}

func TestSetAdvancesPastRemote(t *testing.T) {
	g := hlc.New()

	// A remote HLC slightly in the future (within allowed drift).
	future := time.Now().UTC().Add(10 * time.Second).UnixMilli()
	remote, err := g.Parse(
		"test",
		fmt.Sprintf("%015d:%05d:%s", future, 3, "remote-node"),
	)
	require.NoError(t, err)

	require.NoError(t, g.Set(remote))

	local, err := g.Get()
	require.NoError(t, err)
	require.Equal(t, 1, local.Compare(remote))
}

func TestSetRejectsExcessiveDrift(t *testing.T) {
	g := hlc.New(hlc.WithMaxClockDrift(time.Minute))

	future := time.Now().UTC().Add(time.Hour).UnixMilli()
	remote, err := g.Parse(
		"test",
		fmt.Sprintf("%015d:%05d:%s", future, 0, "remote-node"),
	)
	require.NoError(t, err)

	require.Error(t, g.Set(remote))
}

func TestStringRoundTrip(t *testing.T) {
	g := hlc.New()

	val, err := g.Get()
	require.NoError(t, err)

	parsed, err := g.Parse("test", val.String())
	require.NoError(t, err)
	require.Equal(t, 0, parsed.Compare(val))
	require.Equal(t, val.String(), parsed.String())
}

func TestParseInvalid(t *testing.T) {
	g := hlc.New()

	cases := []string{
		"",
		"123",
		"123:456",
		"abc:00000:node",
		"000000000000123:abc:node",
	}
	for _, val := range cases {
		_, err := g.Parse("test", val)
		require.Error(t, err, "value %q", val)
	}
}

func TestCompareOrdersComponents(t *testing.T) {
	g := hlc.New()

	a, err := g.Parse("test", "000000000001000:00001:node-a")
	require.NoError(t, err)
	b, err := g.Parse("test", "000000000001000:00002:node-a")
	require.NoError(t, err)
	c, err := g.Parse("test", "000000000002000:00000:node-a")
	require.NoError(t, err)
	d, err := g.Parse("test", "000000000001000:00001:node-b")
	require.NoError(t, err)

	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, -1, b.Compare(c))
	require.Equal(t, -1, a.Compare(c))
	require.Equal(t, -1, a.Compare(d))
	require.Equal(t, 1, d.Compare(a))
}
