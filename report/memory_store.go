package report

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-process Store used when no document database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[uint][]Version
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[uint][]Version), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, v *Version) error {
	if err := Validate(v, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.versions[v.PatientID]
	v.Version = len(existing) + 1
	v.ID = primitive.NewObjectID()
	v.CreatedAt = s.now().UTC()
	s.versions[v.PatientID] = append(existing, cloneVersion(*v))
	return nil
}

func (s *MemoryStore) List(_ context.Context, patientID uint) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Version, 0, len(s.versions[patientID]))
	for _, v := range s.versions[patientID] {
		out = append(out, cloneVersion(v))
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, patientID uint, version int) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.versions[patientID]
	if version < 1 || version > len(list) {
		return Version{}, ErrNotFound
	}
	return cloneVersion(list[version-1]), nil
}

func (s *MemoryStore) Latest(_ context.Context, patientID uint) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.versions[patientID]
	if len(list) == 0 {
		return Version{}, ErrNotFound
	}
	return cloneVersion(list[len(list)-1]), nil
}

func cloneVersion(v Version) Version {
	if v.VAS != nil {
		vas := *v.VAS
		v.VAS = &vas
	}
	v.ROM = cloneFloats(v.ROM)
	v.MMT = cloneFloats(v.MMT)
	if v.Extra != nil {
		extra := make(map[string]interface{}, len(v.Extra))
		for k, val := range v.Extra {
			extra[k] = val
		}
		v.Extra = extra
	}
	return v
}

func cloneFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
