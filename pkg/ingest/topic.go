// Package ingest maintains the MQTT sessions, fans their messages into
// one bounded work queue and runs the worker pool that feeds the
// pipeline.
package ingest

import "strings"

// TopicFilters are the subscriptions made on every broker connect.
// Region roots nest anywhere from zero to three extra levels deep, so
// each depth gets its own pair of filters.
var TopicFilters = []string{
	"msh/+/2/map/",
	"msh/+/2/e/+/+",
	"msh/+/+/2/map/",
	"msh/+/+/2/e/+/+",
	"msh/+/+/+/2/map/",
	"msh/+/+/+/2/e/+/+",
	"msh/+/+/+/+/2/map/",
	"msh/+/+/+/+/2/e/+/+",
}

// Kind classifies a message by its topic.
type Kind int

const (
	// KindBinary is a protobuf ServiceEnvelope frame.
	KindBinary Kind = iota
	// KindJSON is a gateway frame published with JSON output enabled.
	KindJSON
	// KindIgnore is broker noise (status topics and the like).
	KindIgnore
)

// Topic is a parsed message topic. The path carries three semantic
// slots at fixed positions from the end: type, channel and user.
type Topic struct {
	Full    string
	Type    string
	Channel string
	User    string
}

// ParseTopic splits a topic into its semantic slots. Topics with
// fewer than three levels are not mesh traffic.
func ParseTopic(topic string) (Topic, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return Topic{}, false
	}
	return Topic{
		Full:    topic,
		Type:    parts[len(parts)-3],
		Channel: parts[len(parts)-2],
		User:    parts[len(parts)-1],
	}, true
}

// Kind classifies the message routed under this topic.
func (t Topic) Kind() Kind {
	switch t.Type {
	case "stat":
		return KindIgnore
	case "json":
		return KindJSON
	default:
		return KindBinary
	}
}

// HasPrefix reports whether the topic lives under the given root,
// e.g. "msh/kgd/".
func (t Topic) HasPrefix(prefix string) bool {
	return strings.HasPrefix(t.Full, prefix)
}
