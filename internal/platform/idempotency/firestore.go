package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/tomato-food/api/internal/platform/firestore"
)

const (
	defaultFirestoreCollection = "idempotency_keys"
	defaultCleanupBatch        = 100
	// A single transaction may write at most 500 documents.
	maxCleanupBatch = 500
)

// ClientSource hands out the shared Firestore client. *firestore.Provider satisfies it.
type ClientSource interface {
	Client(ctx context.Context) (*firestore.Client, error)
}

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency records.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name = strings.TrimSpace(name); name != "" {
			s.collection = name
		}
	}
}

// WithTxAttempts caps the retries of a contended reservation.
func WithTxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.txOpts = append(s.txOpts, pfirestore.WithTxAttempts(attempts))
		}
	}
}

// FirestoreStore keeps idempotency records next to the orders so a Firestore deployment
// needs no extra infrastructure. Every read-modify-write runs in a transaction.
type FirestoreStore struct {
	source     ClientSource
	collection string
	txOpts     []pfirestore.TxOption
}

// NewFirestoreStore builds the store. The client is dialled lazily on first use.
func NewFirestoreStore(source ClientSource, opts ...FirestoreOption) (*FirestoreStore, error) {
	if source == nil {
		return nil, errors.New("idempotency: firestore client source is required")
	}
	store := &FirestoreStore{source: source, collection: defaultFirestoreCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Reserve claims the key, or reports the record already holding it.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	client, ref, err := s.document(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		existing, found, err := readRecord(tx, ref)
		if err != nil {
			return err
		}
		if found && !existing.expired(now) {
			result, err = reservationFor(existing, fingerprint)
			return err
		}
		record := newPendingRecord(key, fingerprint, now, ttl)
		result = Reservation{State: ReservationStateNew, Record: record}
		return tx.Set(ref, encodeFirestoreRecord(record))
	}, s.txOpts...)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	return result, nil
}

// SaveResponse marks the reservation completed with the response to replay.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	client, ref, err := s.document(ctx, key)
	if err != nil {
		return err
	}

	err = pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		record, found, err := readRecord(tx, ref)
		if err != nil {
			return err
		}
		if found && record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !found {
			record = newPendingRecord(key, fingerprint, now, ttl)
		}
		return tx.Set(ref, encodeFirestoreRecord(record.complete(resp, now, ttl)))
	}, s.txOpts...)
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release drops the reservation when fingerprint still holds it.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	client, ref, err := s.document(ctx, key)
	if err != nil {
		return err
	}

	err = pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		record, found, err := readRecord(tx, ref)
		if err != nil || !found || record.Fingerprint != fingerprint {
			return err
		}
		return tx.Delete(ref)
	}, s.txOpts...)
	if err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired deletes up to limit expired records in one transaction.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	switch {
	case limit <= 0:
		limit = defaultCleanupBatch
	case limit > maxCleanupBatch:
		limit = maxCleanupBatch
	}
	client, err := s.source.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(s.collection).Where("expires_at", "<=", now.UTC()).Limit(limit)

	var removed int
	err = pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		removed = 0
		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := tx.Delete(doc.Ref); err != nil {
				return err
			}
		}
		removed = len(docs)
		return nil
	}, s.txOpts...)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return removed, nil
}

func (s *FirestoreStore) document(ctx context.Context, key string) (*firestore.Client, *firestore.DocumentRef, error) {
	client, err := s.source.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Collection(s.collection).Doc(compositeKey(key)), nil
}

func readRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (Record, bool, error) {
	snapshot, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var doc firestoreRecord
	if err := snapshot.DataTo(&doc); err != nil {
		return Record{}, false, fmt.Errorf("decode record %s: %w", ref.ID, err)
	}
	return doc.record(), true, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func encodeFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		ExpiresAt:       r.ExpiresAt.UTC(),
	}
}

func (r firestoreRecord) record() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		ExpiresAt:       r.ExpiresAt.UTC(),
	}
}
