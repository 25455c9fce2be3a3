// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal_test

import (
	"testing"

	"github.com/cartertinney/iot-operations-sdks-sub011/mqtt/internal"
	"github.com/stretchr/testify/require"
)

func collect(l *internal.HandlerList[int]) []int {
	var out []int
	for v := range l.All() {
		out = append(out, v)
	}
	return out
}

func TestHandlerListOrder(t *testing.T) {
	l := internal.NewHandlerList[int]()

	l.Append(1)
	l.Append(2)
	l.Append(3)

	require.Equal(t, []int{1, 2, 3}, collect(l))
}

func TestHandlerListRemoval(t *testing.T) {
	l := internal.NewHandlerList[int]()

	remove1 := l.Append(1)
	remove2 := l.Append(2)
	remove3 := l.Append(3)

	remove2()
	require.Equal(t, []int{1, 3}, collect(l))

	// Double removal is a no-op.
	remove2()
	require.Equal(t, []int{1, 3}, collect(l))

	remove1()
	require.Equal(t, []int{3}, collect(l))

	remove3()
	require.Empty(t, collect(l))

	l.Append(4)
	require.Equal(t, []int{4}, collect(l))
}

func TestHandlerListEarlyExit(t *testing.T) {
	l := internal.NewHandlerList[int]()

	l.Append(1)
	l.Append(2)

	var seen []int
	for v := range l.All() {
		seen = append(seen, v)
		break
	}
	require.Equal(t, []int{1}, seen)
}
