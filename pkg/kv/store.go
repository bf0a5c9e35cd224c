package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/VetheonGames/FileZap/DHTNode/pkg/network"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/session"
)

var log = logging.Logger("dhtnode/kv")

// Store reads and writes JSON values through the session's participant
type Store struct {
	session *session.Session
}

// NewStore creates a store bound to s
func NewStore(s *session.Session) *Store {
	return &Store{session: s}
}

// Put serializes value to JSON and writes it under key, replacing any previous value
func (st *Store) Put(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", session.ErrInvalidArgument)
	}

	return st.session.WithParticipant(func(p network.Participant) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrEncoding, err)
		}
		if err := p.Put(ctx, key, data); err != nil {
			log.Errorf("failed to put %q: %v", key, err)
			return fmt.Errorf("failed to put %q: %w", key, err)
		}
		return nil
	})
}

// GetRaw returns the JSON stored under key
func (st *Store) GetRaw(ctx context.Context, key string) (json.RawMessage, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", session.ErrInvalidArgument)
	}

	var data []byte
	err := st.session.WithParticipant(func(p network.Participant) error {
		var err error
		data, err = p.Get(ctx, key)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNodeNotActive):
		return nil, err
	case errors.Is(err, network.ErrNotFound):
		return nil, fmt.Errorf("%w: %q", session.ErrNotFound, key)
	default:
		log.Errorf("failed to get %q: %v", key, err)
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: value under %q is not valid JSON", session.ErrEncoding, key)
	}
	return json.RawMessage(data), nil
}

// Get decodes the JSON stored under key into out
func (st *Store) Get(ctx context.Context, key string, out interface{}) error {
	data, err := st.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", session.ErrEncoding, err)
	}
	return nil
}
