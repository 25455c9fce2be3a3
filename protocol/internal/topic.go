// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"maps"
	"regexp"
	"strings"

	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/errors"
)

type (
	// TopicPattern applies token values to a named topic pattern.
	TopicPattern struct {
		name    string
		pattern string
		tokens  map[string]string
	}

	// TopicFilter provides a subscription filter that can parse the named
	// tokens back out of a concrete topic.
	TopicFilter struct {
		filter string
		regex  *regexp.Regexp
		names  []string
		tokens map[string]string
	}
)

const (
	topicLabel = `[^ "+#{}/]+`
	topicName  = `[A-Za-z0-9_:]+`
	topicToken = `\{` + topicName + `\}`
	topicLevel = `(` + topicLabel + `|` + topicToken + `)`
	topicMatch = `(` + topicLabel + `)`
)

var (
	matchLabel = regexp.MustCompile(
		`^` + topicLabel + `$`,
	)
	matchName = regexp.MustCompile(
		`^` + topicName + `$`,
	)
	matchToken = regexp.MustCompile(
		topicToken, // Lacks anchors because it is used for replacements.
	)
	matchTopic = regexp.MustCompile(
		`^` + topicLabel + `(/` + topicLabel + `)*$`,
	)
	matchPattern = regexp.MustCompile(
		`^` + topicLevel + `(/` + topicLevel + `)*$`,
	)
)

// ValidateTopicPatternComponent performs initial validation of a topic pattern
// component, e.g. a prefix or suffix provided separately from the pattern.
func ValidateTopicPatternComponent(name, msgOnErr, pattern string) error {
	if !matchPattern.MatchString(pattern) {
		return &errors.Error{
			Message:       msgOnErr,
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  name,
			PropertyValue: pattern,
		}
	}
	return nil
}

// NewTopicPattern creates a new topic pattern and performs initial
// validations, resolving any tokens bound at construction.
func NewTopicPattern(
	name, pattern string,
	tokens map[string]string,
	namespace string,
) (*TopicPattern, error) {
	if namespace != "" {
		if !ValidTopic(namespace) {
			return nil, &errors.Error{
				Message:       "invalid topic namespace",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "TopicNamespace",
				PropertyValue: namespace,
			}
		}
		pattern = namespace + `/` + pattern
	}

	if !matchPattern.MatchString(pattern) {
		return nil, &errors.Error{
			Message:       "invalid topic pattern",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  name,
			PropertyValue: pattern,
		}
	}

	if err := validateTokens(errors.ConfigurationInvalid, tokens); err != nil {
		return nil, err
	}
	for token, value := range tokens {
		pattern = strings.ReplaceAll(pattern, `{`+token+`}`, value)
	}

	return &TopicPattern{name, pattern, tokens}, nil
}

// Topic fully resolves a topic pattern for publishing.
func (tp *TopicPattern) Topic(tokens map[string]string) (string, error) {
	topic := tp.pattern

	if err := validateTokens(errors.ArgumentInvalid, tokens); err != nil {
		return "", err
	}
	for token, value := range tokens {
		topic = strings.ReplaceAll(topic, `{`+token+`}`, value)
	}

	if !ValidTopic(topic) {
		missingToken := matchToken.FindString(topic)
		if missingToken != "" {
			return "", &errors.Error{
				Message:      "invalid topic",
				Kind:         errors.ArgumentInvalid,
				PropertyName: missingToken[1 : len(missingToken)-1],
			}
		}

		return "", &errors.Error{
			Message:       "invalid topic",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  tp.name,
			PropertyValue: topic,
		}
	}
	return topic, nil
}

// Filter generates a filter for subscribing. Unresolved tokens are treated as
// "+" wildcards for this purpose.
func (tp *TopicPattern) Filter() (*TopicFilter, error) {
	// Get the remaining token names.
	names := matchToken.FindAllString(tp.pattern, -1)
	for i, token := range names {
		names[i] = token[1 : len(token)-1]
	}

	// Build a regexp matching all remaining tokens.
	escaped := regexp.QuoteMeta(tp.pattern)
	for _, token := range names {
		escaped = strings.ReplaceAll(escaped, `\{`+token+`\}`, topicMatch)
	}
	regex, err := regexp.Compile(`^` + escaped + `$`)
	if err != nil {
		return nil, err
	}

	// Replace remaining tokens with "+".
	filter := matchToken.ReplaceAllString(tp.pattern, `+`)

	return &TopicFilter{filter, regex, names, tp.tokens}, nil
}

// Filter provides the MQTT topic filter string.
func (tf *TopicFilter) Filter() string {
	return tf.filter
}

// Tokens indicates whether the topic matched and resolves its topic tokens.
func (tf *TopicFilter) Tokens(topic string) (map[string]string, bool) {
	match := tf.regex.FindStringSubmatch(topic)
	if match == nil {
		return nil, false
	}

	tokens := make(map[string]string, len(tf.names)+len(tf.tokens))
	for i, val := range match[1:] {
		tokens[tf.names[i]] = val
	}
	maps.Copy(tokens, tf.tokens)
	return tokens, true
}

// ValidTopic returns whether the provided string is a fully-resolved topic.
func ValidTopic(topic string) bool {
	return matchTopic.MatchString(topic)
}

// ValidateShareName returns whether the provided string is a valid shared
// subscription group name.
func ValidateShareName(shareName string) error {
	if shareName != "" && !matchLabel.MatchString(shareName) {
		return &errors.Error{
			Message:       "invalid share name",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "ShareName",
			PropertyValue: shareName,
		}
	}
	return nil
}

// Return whether all the topic tokens are valid (to provide more specific
// errors compared to just testing the resulting topic). Takes the error kind
// as an argument since it varies between ConfigurationInvalid (tokens provided
// in the constructor) and ArgumentInvalid (tokens provided at call time).
func validateTokens(kind errors.Kind, tokens map[string]string) error {
	for k, v := range tokens {
		// Token values that aren't in the pattern are valid, but their names
		// and values must be well-formed so that mistakes don't silently
		// produce patterns that can never resolve.
		if !matchName.MatchString(k) || !matchLabel.MatchString(v) {
			return &errors.Error{
				Message:       "invalid topic token",
				Kind:          kind,
				PropertyName:  k,
				PropertyValue: v,
			}
		}
	}
	return nil
}
