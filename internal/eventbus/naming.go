package eventbus

import (
	"fmt"
	"reflect"
)

const groupSuffix = "-group"

// TypeName returns the logical name of E: the simple name of the concrete
// type with any pointer indirection removed.
func TypeName[E any]() string {
	return typeName(reflect.TypeFor[E]())
}

// TypeNameOf returns the logical name of the concrete type of e.
func TypeNameOf(e Event) string {
	return typeName(reflect.TypeOf(e))
}

// TopicName returns the broker topic events of type E are published to.
func TopicName[E any]() string {
	return TypeName[E]()
}

// GroupName returns the consumer group used for a topic. It depends only on
// the topic, so every handler type subscribed to the same event type joins the
// same group.
func GroupName(topic string) string {
	return topic + groupSuffix
}

func typeName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}

	if name := t.Name(); name != "" {
		return name
	}

	return fmt.Sprint(t)
}
