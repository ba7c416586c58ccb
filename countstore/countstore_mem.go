package countstore

import (
	"context"
	"sync"
)

type MemCountStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts: make(map[string]int),
	}
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[periodBucket(name, val, period)], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	for _, p := range []string{PeriodTotal, PeriodDay, PeriodHour} {
		if err := s.IncrementPeriod(ctx, name, val, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemCountStore) IncrementPeriod(ctx context.Context, name, val, period string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[periodBucket(name, val, period)]++
	return nil
}
