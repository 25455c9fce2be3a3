// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal_test

import (
	"testing"

	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal"
	"github.com/stretchr/testify/require"
)

func TestTopicPatternBasic(t *testing.T) {
	pattern, err := internal.NewTopicPattern(
		"basic",
		"a/{default}/topic/{pattern}",
		map[string]string{"default": "basic"},
		"",
	)
	require.NoError(t, err)

	topic, err := pattern.Topic(map[string]string{
		"default": "replaced", // Tokens provided to the constructor are static.
		"pattern": "resolved",
	})
	require.NoError(t, err)
	require.Equal(t, "a/basic/topic/resolved", topic)

	_, err = pattern.Topic(nil)
	require.Error(t, err)
	require.Equal(t, "invalid topic", err.Error())

	filter, err := pattern.Filter()
	require.NoError(t, err)
	require.Equal(t, "a/basic/topic/+", filter.Filter())

	tokens, ok := filter.Tokens(topic)
	require.True(t, ok)
	require.Equal(t, map[string]string{
		"default": "basic",
		"pattern": "resolved",
	}, tokens)
}

func TestTopicPatternNamespace(t *testing.T) {
	pattern, err := internal.NewTopicPattern(
		"namespaced",
		"rpc/{command}",
		map[string]string{"command": "add"},
		"ns",
	)
	require.NoError(t, err)

	topic, err := pattern.Topic(nil)
	require.NoError(t, err)
	require.Equal(t, "ns/rpc/add", topic)

	_, err = internal.NewTopicPattern("namespaced", "rpc", nil, "bad ns")
	require.Error(t, err)
}

func TestTopicPatternUserTokens(t *testing.T) {
	pattern, err := internal.NewTopicPattern(
		"user",
		"mock/{modelId}/test/{ex:foobar}",
		map[string]string{"modelId": "dtmi:x;1"},
		"",
	)
	require.NoError(t, err)

	topic, err := pattern.Topic(map[string]string{"ex:foobar": "MyValue"})
	require.NoError(t, err)
	require.Equal(t, "mock/dtmi:x;1/test/MyValue", topic)

	filter, err := pattern.Filter()
	require.NoError(t, err)
	require.Equal(t, "mock/dtmi:x;1/test/+", filter.Filter())

	tokens, ok := filter.Tokens(topic)
	require.True(t, ok)
	require.Equal(t, map[string]string{
		"modelId":   "dtmi:x;1",
		"ex:foobar": "MyValue",
	}, tokens)

	_, ok = filter.Tokens("mock/dtmi:y;2/test/MyValue")
	require.False(t, ok)
}

func TestTopicPatternInvalid(t *testing.T) {
	cases := []string{
		"",
		"a//b",
		"a/+/b",
		"a/#",
		"a/{unclosed",
		"pre{fix}/b",
	}
	for _, pattern := range cases {
		_, err := internal.NewTopicPattern("invalid", pattern, nil, "")
		require.Error(t, err, "pattern %q", pattern)
	}
}

func TestTopicPatternInvalidTokens(t *testing.T) {
	_, err := internal.NewTopicPattern(
		"tokens",
		"a/{token}",
		map[string]string{"token": "has/slash"},
		"",
	)
	require.Error(t, err)

	pattern, err := internal.NewTopicPattern("tokens", "a/{token}", nil, "")
	require.NoError(t, err)

	_, err = pattern.Topic(map[string]string{"token": ""})
	require.Error(t, err)

	_, err = pattern.Topic(map[string]string{"token": "has space"})
	require.Error(t, err)

	// Unresolved tokens name the missing token in the error.
	_, err = pattern.Topic(nil)
	require.Error(t, err)
}

func TestValidateShareName(t *testing.T) {
	require.NoError(t, internal.ValidateShareName(""))
	require.NoError(t, internal.ValidateShareName("group1"))
	require.Error(t, internal.ValidateShareName("bad/name"))
	require.Error(t, internal.ValidateShareName("bad name"))
}
