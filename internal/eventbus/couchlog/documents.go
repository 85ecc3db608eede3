// Package couchlog is a broker backend that keeps the message log in
// Couchbase. Each topic is split into shards; a shard is an append-only
// sequence of records whose write position lives in a head document. Consumer
// groups track their position per shard in cursor documents, and a shard is
// consumed by at most one member of a group at a time, enforced by an
// expiring lease document.
package couchlog

import (
	"fmt"
	"time"

	"eventbus/internal/couchbase"
)

// Record is one message stored in a shard.
type Record struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Shard       int       `json:"shard"`
	Offset      uint64    `json:"offset"`
	Key         []byte    `json:"key,omitempty"`
	Value       []byte    `json:"value"`
	Headers     []Header  `json:"headers,omitempty"`
	PublishTime time.Time `json:"publishTime"`
}

type Header struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Head is the next offset to be written in a shard.
type Head struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
	Shard int    `json:"shard"`
	Next  uint64 `json:"next"`
}

// Cursor is the next offset a group reads from a shard.
type Cursor struct {
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Group  string `json:"group"`
	Shard  int    `json:"shard"`
	Offset uint64 `json:"offset"`
}

// Lease grants one group member exclusive consumption of a shard until it
// expires.
type Lease struct {
	ID      string    `json:"id"`
	Topic   string    `json:"topic"`
	Group   string    `json:"group"`
	Shard   int       `json:"shard"`
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`

	couchbase.Cas `json:"-"`
}

func RecordKey(topic string, shard int, offset uint64) string {
	return fmt.Sprintf("record::%s::%d::%d", topic, shard, offset)
}

func HeadKey(topic string, shard int) string {
	return fmt.Sprintf("head::%s::%d", topic, shard)
}

func CursorKey(topic, group string, shard int) string {
	return fmt.Sprintf("cursor::%s::%s::%d", topic, group, shard)
}

func LeaseKey(topic, group string, shard int) string {
	return fmt.Sprintf("lease::%s::%s::%d", topic, group, shard)
}
