// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import "github.com/eclipse/paho.golang/paho"

// UserPropertiesToMap converts Paho's user properties to their map form.
func UserPropertiesToMap(ups paho.UserProperties) map[string]string {
	m := make(map[string]string, len(ups))
	for _, prop := range ups {
		m[prop.Key] = prop.Value
	}
	return m
}

// MapToUserProperties converts a map to Paho's user property form.
func MapToUserProperties(m map[string]string) paho.UserProperties {
	ups := make(paho.UserProperties, 0, len(m))
	for key, value := range m {
		ups = append(ups, paho.UserProperty{Key: key, Value: value})
	}
	return ups
}
