package kafka

import (
	"github.com/segmentio/kafka-go"

	"eventbus/internal/eventbus"
)

func toKafka(m eventbus.Message) kafka.Message {
	km := kafka.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}
	if len(m.Headers) > 0 {
		km.Headers = make([]kafka.Header, 0, len(m.Headers))
		for _, h := range m.Headers {
			km.Headers = append(km.Headers, kafka.Header{Key: h.Key, Value: h.Value})
		}
	}

	return km
}

func fromKafka(km kafka.Message) eventbus.Message {
	m := eventbus.Message{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Time:      km.Time,
	}
	if len(km.Headers) > 0 {
		m.Headers = make([]eventbus.Header, 0, len(km.Headers))
		for _, h := range km.Headers {
			m.Headers = append(m.Headers, eventbus.Header{Key: h.Key, Value: h.Value})
		}
	}

	return m
}
