package eventbus

import "time"

// Message is a single record read from or written to the broker.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []Header
	Time      time.Time
}

// Header is a broker record header.
type Header struct {
	Key   string
	Value []byte
}

// Empty reports whether the message carries no payload.
func (m Message) Empty() bool {
	return len(m.Value) == 0
}
