// Package decoder turns one line received from the sensor receiver into a
// Record ready to be published.
//
// A line is a JSON document of the form
//
//	{"topic":{"TX_NAME":"ESP_WEATHERSTATION"},"payload":{"BME280":{"temperature":24.3}}}
//
// The value under the topic object becomes the MQTT topic, the payload object
// is forwarded unchanged apart from insignificant whitespace.
package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Record is one decoded line.
type Record struct {
	// Topic is the MQTT topic, prefix included.
	Topic string
	// Key is the name of the member of the topic object the topic was taken from.
	Key string
	// Payload is the compact JSON encoding of the payload object.
	Payload []byte
}

// Options adjusts how the topic is derived.
type Options struct {
	// TopicKey selects the member of the topic object to use. When empty the
	// first member in document order is used.
	TopicKey string
	// TopicPrefix is prepended to the topic value.
	TopicPrefix string
}

// DecodeRecord decodes a single line. Surrounding whitespace, including a
// trailing CR, is ignored. On failure no Record is returned and the error
// wraps one of the package sentinels.
func DecodeRecord(line []byte, opts Options) (Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Record{}, ErrEmptyLine
	}
	if !utf8.Valid(line) {
		return Record{}, ErrInvalidUTF8
	}

	// Member names are matched exactly; "Topic" is not "topic".
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	rawTopic, rawPayload := fields["topic"], fields["payload"]
	if isAbsent(rawTopic) {
		return Record{}, ErrMissingTopic
	}
	key, topic, err := topicValue(rawTopic, opts.TopicKey)
	if err != nil {
		return Record{}, err
	}

	if isAbsent(rawPayload) {
		return Record{}, ErrMissingPayload
	}
	if rawPayload[0] != '{' {
		return Record{}, ErrBadPayload
	}
	var payload bytes.Buffer
	if err := json.Compact(&payload, rawPayload); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	return Record{
		Topic:   opts.TopicPrefix + topic,
		Key:     key,
		Payload: payload.Bytes(),
	}, nil
}

// isAbsent treats a JSON null like a missing member.
func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// topicValue walks the topic object in document order and returns the
// selected member, which must be a non-empty string.
func topicValue(raw json.RawMessage, want string) (string, string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return "", "", fmt.Errorf("%w: expected an object", ErrBadTopic)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrBadTopic, err)
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrBadTopic, err)
		}
		if want != "" && key != want {
			continue
		}

		var topic string
		if err := json.Unmarshal(value, &topic); err != nil {
			return "", "", fmt.Errorf("%w: value of %q is not a string", ErrBadTopic, key)
		}
		if topic == "" {
			return "", "", fmt.Errorf("%w: value of %q is empty", ErrBadTopic, key)
		}
		return key, topic, nil
	}
	if want != "" {
		return "", "", fmt.Errorf("%w: key %q not present", ErrMissingTopic, want)
	}
	return "", "", fmt.Errorf("%w: object is empty", ErrMissingTopic)
}
