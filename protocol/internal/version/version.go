// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package version

import (
	"strconv"
	"strings"
)

// Protocol version constants. A missing version on the wire is treated as the
// initial "1.0" release.
const (
	ProtocolString  = "1.0"
	SupportedString = "1"
)

// Supported lists the major protocol versions this library understands.
var Supported = ParseSupported(SupportedString)

// ParseProtocol parses a "<major>.<minor>" protocol version. A major version
// of -1 indicates an unparsable value.
func ParseProtocol(v string) (major, minor int) {
	if v == "" {
		return 1, 0
	}

	parts := strings.Split(v, ".")
	if len(parts) != 2 {
		return -1, 0
	}

	var err error
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return -1, 0
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return -1, 0
	}
	return major, minor
}

// ParseSupported parses a space-separated list of major versions.
func ParseSupported(vs string) []int {
	if vs == "" {
		return nil
	}

	parts := strings.Split(vs, " ")
	res := make([]int, len(parts))
	for i, part := range parts {
		var err error
		res[i], err = strconv.Atoi(part)
		if err != nil {
			return nil
		}
	}
	return res
}

// SerializeSupported renders a list of major versions to its wire form.
func SerializeSupported(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

// IsSupported indicates whether the given protocol version has a supported
// major version.
func IsSupported(v string) bool {
	major, _ := ParseProtocol(v)
	for _, s := range Supported {
		if major == s {
			return true
		}
	}
	return false
}
