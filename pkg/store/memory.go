package store

import (
	"context"
	"sync"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
)

// Memory is a process local backend. It is not durable; use it for tests and
// ephemeral sessions.
type Memory struct {
	mx     sync.RWMutex
	m      map[string][]byte
	closed bool
	// Fail makes every call return a storage error when set.
	Fail bool
}

var _ I = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{m: make(map[string][]byte)} }

func (s *Memory) check(op string) error {
	if s.closed {
		return errs.New(errs.ErrStorage, op, "store closed")
	}
	if s.Fail {
		return errs.New(errs.ErrStorage, op, "backend unavailable")
	}
	return nil
}

func (s *Memory) Get(c context.Context, keys ...string) (v Values, err error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if err = s.check("get"); err != nil {
		return
	}
	v = make(Values, len(keys))
	for _, k := range keys {
		if b, ok := s.m[Namespace+k]; ok {
			v[k] = append([]byte(nil), b...)
		}
	}
	return
}

func (s *Memory) Set(c context.Context, entries Entries) (err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err = s.check("set"); err != nil {
		return
	}
	for k, b := range entries {
		s.m[Namespace+k] = append([]byte(nil), b...)
	}
	return
}

func (s *Memory) Delete(c context.Context, keys ...string) (err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err = s.check("delete"); err != nil {
		return
	}
	for _, k := range keys {
		delete(s.m, Namespace+k)
	}
	return
}

func (s *Memory) Close() error {
	s.mx.Lock()
	s.closed = true
	s.mx.Unlock()
	return nil
}
