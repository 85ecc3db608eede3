package couchlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"eventbus/internal/couchbase"
	"eventbus/internal/validator"
)

// Store implements Controller on Couchbase. Appends and cursor commits run in
// distributed transactions so concurrent producers never reuse an offset.
type Store struct {
	records      *couchbase.Couchbase[Record]
	heads        *couchbase.Couchbase[Head]
	cursors      *couchbase.Couchbase[Cursor]
	leases       *couchbase.Couchbase[Lease]
	transactions *couchbase.Transactions
	bucket       string
	scope        string
}

// NewStore opens the records, heads, cursors and leases collections of scope.
func NewStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string, cfg Config) (*Store, error) {
	if err := validator.Validate("couchlog store", cluster, bucket, scope); err != nil {
		return nil, err
	}

	s := bucket.Scope(scope)
	records, err := couchbase.NewCouchbase[Record](cluster, s.Collection("records"))
	if err != nil {
		return nil, err
	}
	heads, err := couchbase.NewCouchbase[Head](cluster, s.Collection("heads"))
	if err != nil {
		return nil, err
	}
	cursors, err := couchbase.NewCouchbase[Cursor](cluster, s.Collection("cursors"))
	if err != nil {
		return nil, err
	}
	leases, err := couchbase.NewCouchbase[Lease](cluster, s.Collection("leases"))
	if err != nil {
		return nil, err
	}
	transactions, err := couchbase.NewTransactions(cluster, cfg.TransactionTimeout)
	if err != nil {
		return nil, err
	}

	return &Store{
		records:      records,
		heads:        heads,
		cursors:      cursors,
		leases:       leases,
		transactions: transactions,
		bucket:       bucket.Name(),
		scope:        scope,
	}, nil
}

func (s *Store) Append(ctx context.Context, topic string, shard int, records []Record) (uint64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key := HeadKey(topic, shard)
	var first uint64

	_, err := s.transactions.Transaction(func(r couchbase.TransactionRunner) error {
		head := Head{ID: key, Topic: topic, Shard: shard}

		res, err := r.Get(s.heads, key)
		switch {
		case err == nil:
			if err := res.Content(&head); err != nil {
				return fmt.Errorf("failed to decode head: %w", err)
			}
		case errors.Is(err, gocb.ErrDocumentNotFound):
			res = nil
		default:
			return fmt.Errorf("failed to get head: %w", err)
		}

		first = head.Next
		for i, rec := range records {
			rec.Topic = topic
			rec.Shard = shard
			rec.Offset = first + uint64(i)
			rec.ID = RecordKey(topic, shard, rec.Offset)
			if _, err := r.Insert(s.records, rec.ID, rec); err != nil {
				return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
			}
		}

		head.Next = first + uint64(len(records))
		if res == nil {
			_, err = r.Insert(s.heads, key, head)
		} else {
			_, err = r.Replace(res, head)
		}
		if err != nil {
			return fmt.Errorf("failed to advance head: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append %d records to %s shard %d: %w", len(records), topic, shard, err)
	}

	return first, nil
}

func (s *Store) LoadRecords(ctx context.Context, topic string, shard int, from uint64, limit int) ([]Record, error) {
	query := fmt.Sprintf(
		"SELECT RAW r FROM `%s`.`%s`.`%s` r "+
			"WHERE r.topic = $topic AND r.shard = $shard AND r.`offset` >= $from "+
			"ORDER BY r.`offset` ASC LIMIT $limit",
		s.bucket, s.scope, s.records.Collection().Name(),
	)

	records, err := s.records.Query(ctx, query, &gocb.QueryOptions{
		ScanConsistency: gocb.QueryScanConsistencyRequestPlus,
		NamedParameters: map[string]any{
			"topic": topic,
			"shard": shard,
			"from":  from,
			"limit": limit,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load records of %s shard %d: %w", topic, shard, err)
	}

	return records, nil
}

func (s *Store) GetCursor(ctx context.Context, topic, group string, shard int) (uint64, error) {
	cur, err := s.cursors.Get(ctx, CursorKey(topic, group, shard), nil)
	switch {
	case err == nil:
		return cur.Offset, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return 0, nil
	default:
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
}

func (s *Store) CommitCursor(ctx context.Context, topic, group string, shard int, next uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := CursorKey(topic, group, shard)

	_, err := s.transactions.Transaction(func(r couchbase.TransactionRunner) error {
		res, err := r.Get(s.cursors, key)
		switch {
		case err == nil:
		case errors.Is(err, gocb.ErrDocumentNotFound):
			cursor := Cursor{ID: key, Topic: topic, Group: group, Shard: shard, Offset: next}
			if _, err := r.Insert(s.cursors, key, cursor); err != nil {
				return fmt.Errorf("failed to insert new cursor: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("failed to get cursor: %w", err)
		}

		var cursor Cursor
		if err := res.Content(&cursor); err != nil {
			return fmt.Errorf("failed to decode cursor: %w", err)
		}
		if next <= cursor.Offset {
			return nil
		}

		cursor.Offset = next
		if _, err := r.Replace(res, cursor); err != nil {
			return fmt.Errorf("failed to replace cursor: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit cursor %s: %w", key, err)
	}

	return nil
}

func (s *Store) AcquireLease(ctx context.Context, topic, group string, shard int, owner string, ttl time.Duration) (bool, error) {
	key := LeaseKey(topic, group, shard)
	lease := Lease{
		ID:      key,
		Topic:   topic,
		Group:   group,
		Shard:   shard,
		Owner:   owner,
		Expires: time.Now().UTC().Add(ttl),
	}

	err := s.leases.Insert(ctx, key, lease, &gocb.InsertOptions{Expiry: ttl})
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, gocb.ErrDocumentExists):
		return false, fmt.Errorf("failed to insert lease: %w", err)
	}

	current, err := s.leases.Get(ctx, key, nil)
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentNotFound):
		// expired since the insert; the next attempt takes it
		return false, nil
	default:
		return false, fmt.Errorf("failed to get lease: %w", err)
	}
	if current.Owner != owner {
		return false, nil
	}

	current.Expires = lease.Expires
	err = s.leases.Replace(ctx, key, current, &gocb.ReplaceOptions{Expiry: ttl})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gocb.ErrCasMismatch), errors.Is(err, gocb.ErrDocumentNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
}

func (s *Store) ReleaseLease(ctx context.Context, topic, group string, shard int, owner string) error {
	key := LeaseKey(topic, group, shard)

	current, err := s.leases.Get(ctx, key, nil)
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return nil
	default:
		return fmt.Errorf("failed to get lease: %w", err)
	}
	if current.Owner != owner {
		return nil
	}

	err = s.leases.Remove(ctx, key, &gocb.RemoveOptions{Cas: current.GetCas()})
	if err != nil && !errors.Is(err, gocb.ErrCasMismatch) {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}

var _ Controller = (*Store)(nil)
