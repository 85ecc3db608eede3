package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"eventbus/internal/couchbase"
	"eventbus/internal/validator"
)

// Config holds dead-letter storage settings.
type Config struct {
	Collection string        `env:"DEADLETTER_COLLECTION" envDefault:"deadletters"`
	Retention  time.Duration `env:"DEADLETTER_RETENTION" envDefault:"168h"`
}

// Store keeps parked letters in a Couchbase collection.
type Store struct {
	letters   *couchbase.Couchbase[Letter]
	bucket    string
	scope     string
	retention time.Duration
}

// NewStore returns a store over bucket.scope.<cfg.Collection>.
func NewStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string, cfg Config) (*Store, error) {
	if err := validator.Validate("deadletter store", cluster, bucket, scope, cfg.Collection); err != nil {
		return nil, err
	}

	collection := bucket.Scope(scope).Collection(cfg.Collection)
	letters, err := couchbase.NewCouchbase[Letter](cluster, collection)
	if err != nil {
		return nil, err
	}

	return &Store{
		letters:   letters,
		bucket:    bucket.Name(),
		scope:     scope,
		retention: cfg.Retention,
	}, nil
}

// Put parks a letter. Parking the same message twice is not an error.
func (s *Store) Put(ctx context.Context, l Letter) error {
	err := s.letters.Insert(ctx, l.ID, l, &gocb.InsertOptions{
		Expiry: s.retention,
	})
	switch {
	case err == nil, errors.Is(err, gocb.ErrDocumentExists):
		return nil
	default:
		return fmt.Errorf("failed to park message %s: %w", l.ID, err)
	}
}

// List returns up to limit parked letters for topic, oldest first.
func (s *Store) List(ctx context.Context, topic string, limit int) ([]Letter, error) {
	query := listQuery(s.bucket, s.scope, s.letters.Collection().Name())

	letters, err := s.letters.Query(ctx, query, &gocb.QueryOptions{
		NamedParameters: map[string]any{
			"topic": topic,
			"limit": limit,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list letters for topic %s: %w", topic, err)
	}

	return letters, nil
}

func listQuery(bucket, scope, collection string) string {
	return fmt.Sprintf(
		"SELECT RAW l FROM `%s`.`%s`.`%s` l WHERE l.topic = $topic ORDER BY l.parkedAt ASC LIMIT $limit",
		bucket,
		scope,
		collection,
	)
}
