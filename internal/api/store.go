package api

import "sync"

const defaultStoreCapacity = 64

// FitStore keeps the most recent fit responses for retrieval by id. The
// oldest entry is evicted once capacity is reached.
type FitStore struct {
	mu       sync.Mutex
	capacity int
	fits     map[string]*FitResponse
	order    []string
}

func NewFitStore(capacity int) *FitStore {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &FitStore{
		capacity: capacity,
		fits:     make(map[string]*FitResponse),
	}
}

func (s *FitStore) Save(resp *FitResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fits[resp.ID]; !ok {
		s.order = append(s.order, resp.ID)
	}
	s.fits[resp.ID] = resp
	for len(s.order) > s.capacity {
		delete(s.fits, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *FitStore) Get(id string) (*FitResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.fits[id]
	return resp, ok
}

func (s *FitStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fits[id]; !ok {
		return false
	}
	delete(s.fits, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *FitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fits)
}
