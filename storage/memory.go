package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/b-open-io/flagpush/dtos"
)

// MemoryFeatureFlagStorage keeps feature flags in process memory.
type MemoryFeatureFlagStorage struct {
	mu    sync.RWMutex
	flags map[string]dtos.SplitDTO
	till  int64
}

// NewMemoryFeatureFlagStorage creates an empty, never-synchronized storage.
func NewMemoryFeatureFlagStorage() *MemoryFeatureFlagStorage {
	return &MemoryFeatureFlagStorage{
		flags: make(map[string]dtos.SplitDTO),
		till:  NoChangeNumber,
	}
}

func (s *MemoryFeatureFlagStorage) ChangeNumber(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.till, nil
}

func (s *MemoryFeatureFlagStorage) Update(ctx context.Context, toAdd []dtos.SplitDTO, toRemove []dtos.SplitDTO, changeNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, flag := range toAdd {
		s.flags[flag.Name] = flag
	}
	for _, flag := range toRemove {
		delete(s.flags, flag.Name)
	}
	s.till = changeNumber
	return nil
}

func (s *MemoryFeatureFlagStorage) FeatureFlag(ctx context.Context, name string) (*dtos.SplitDTO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flag, ok := s.flags[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &flag, nil
}

func (s *MemoryFeatureFlagStorage) KillLocally(ctx context.Context, name, defaultTreatment string, changeNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[name]
	if !ok || flag.ChangeNumber >= changeNumber {
		return nil
	}
	flag.Killed = true
	flag.DefaultTreatment = defaultTreatment
	flag.ChangeNumber = changeNumber
	s.flags[name] = flag
	return nil
}

func (s *MemoryFeatureFlagStorage) SegmentNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, flag := range s.flags {
		for _, name := range flag.SegmentNames() {
			set[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryFeatureFlagStorage) Close() error {
	return nil
}

// MemorySegmentStorage keeps segments in process memory.
type MemorySegmentStorage struct {
	mu       sync.RWMutex
	segments map[string]*memorySegment
}

type memorySegment struct {
	keys map[string]struct{}
	till int64
}

// NewMemorySegmentStorage creates an empty segment storage.
func NewMemorySegmentStorage() *MemorySegmentStorage {
	return &MemorySegmentStorage{segments: make(map[string]*memorySegment)}
}

func (s *MemorySegmentStorage) Segment(ctx context.Context, name string) (*dtos.SegmentDTO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[name]
	if !ok {
		return nil, ErrNotFound
	}
	keys := make([]string, 0, len(seg.keys))
	for k := range seg.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &dtos.SegmentDTO{Name: name, Keys: keys, ChangeNumber: seg.till}, nil
}

func (s *MemorySegmentStorage) ChangeNumber(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seg, ok := s.segments[name]; ok {
		return seg.till, nil
	}
	return NoChangeNumber, nil
}

func (s *MemorySegmentStorage) Update(ctx context.Context, name string, toAdd, toRemove []string, changeNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[name]
	if !ok {
		seg = &memorySegment{keys: make(map[string]struct{})}
		s.segments[name] = seg
	}
	for _, k := range toAdd {
		seg.keys[k] = struct{}{}
	}
	for _, k := range toRemove {
		delete(seg.keys, k)
	}
	seg.till = changeNumber
	return nil
}

func (s *MemorySegmentStorage) Close() error {
	return nil
}
