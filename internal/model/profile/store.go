package profile

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned for unknown profile ids.
var ErrNotFound = errors.New("profile not found")

// SampleKind distinguishes voice from text training samples.
type SampleKind string

const (
	VoiceSamples SampleKind = "voice"
	TextSamples  SampleKind = "text"
)

// Store exposes profile retrieval and the few mutations the dashboard performs.
type Store interface {
	List() []Profile
	FindByID(id string) (Profile, bool)
	Create(input NewProfile) (Profile, error)
	AddSamples(id string, kind SampleKind, n int) error
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Profile
	now   func() time.Time
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...), now: time.Now}
}

// List returns a copy of every profile.
func (s *MemoryStore) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Profile(nil), s.items...)
}

// FindByID looks up a profile by identifier.
func (s *MemoryStore) FindByID(id string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Profile{}, false
}

// Create validates input and stores a new profile.
func (s *MemoryStore) Create(input NewProfile) (Profile, error) {
	if err := Validate(input); err != nil {
		return Profile{}, err
	}

	p := Profile{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(input.FullName),
		Relationship: strings.TrimSpace(input.Relationship),
		BirthDate:    strings.TrimSpace(input.BirthDate),
		DeathDate:    strings.TrimSpace(input.DeathDate),
		Bio:          strings.TrimSpace(input.Bio),
		AvatarURL:    input.AvatarURL,
		Greeting:     strings.TrimSpace(input.Greeting),
		CreatedAt:    s.now().UTC(),
	}
	if p.Greeting == "" {
		p.Greeting = "Hello? Is that you?"
	}

	s.mu.Lock()
	s.items = append(s.items, p)
	s.mu.Unlock()
	return p, nil
}

// AddSamples bumps the sample counter of the given kind.
func (s *MemoryStore) AddSamples(id string, kind SampleKind, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		switch kind {
		case VoiceSamples:
			s.items[i].VoiceSamples += n
		case TextSamples:
			s.items[i].TextSamples += n
		default:
			return errors.Errorf("unknown sample kind %q", kind)
		}
		return nil
	}
	return errors.Wrap(ErrNotFound, id)
}
