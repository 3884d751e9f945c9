package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "register_state"

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store register slots.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithRegisterID scopes the stored documents to one register so a fleet can
// share a single collection.
func WithRegisterID(id string) FirestoreOption {
	return func(store *FirestoreStore) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			store.registerID = trimmed
		}
	}
}

// FirestoreStore implements Store backed by Google Cloud Firestore. It is the
// shared durability layer for fleets where the agent host itself is
// disposable.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	registerID string
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("kvstore: firestore client is required")
	}
	store := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		registerID: "default",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(s.registerID + ":" + key)
}

// Get implements the Store interface.
func (s *FirestoreStore) Get(ctx context.Context, key string) (string, error) {
	snap, err := s.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrKeyNotFound
		}
		return "", err
	}

	var record firestoreSlot
	if err := snap.DataTo(&record); err != nil {
		return "", err
	}
	return record.Value, nil
}

// Set implements the Store interface.
func (s *FirestoreStore) Set(ctx context.Context, key, value string) error {
	_, err := s.doc(key).Set(ctx, firestoreSlot{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	})
	return err
}

// Delete implements the Store interface.
func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

type firestoreSlot struct {
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}
