// Package portaltest provides a scripted portal for tests of code driving
// portal sessions.
package portaltest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"triagem/lib/cadastre"
	"triagem/lib/portal"
)

// Fake hands out sessions that succeed unless Fail says otherwise.
type Fake struct {
	// Fail is called before every step of every session, n counts
	// sessions from 1.
	Fail func(n int, step portal.Step, target string) error
	// Fields are returned by Extract.
	Fields map[string]cadastre.Value
	// Files are written into the work directory by Extract.
	Files []string
	// Indices are returned by ListIndices.
	Indices []string

	mu      sync.Mutex
	opened  int
	closed  int
	targets []string
}

func (f *Fake) fail(n int, step portal.Step, target string) error {
	if f.Fail == nil {
		return nil
	}
	return f.Fail(n, step, target)
}

// Opened is the number of sessions opened so far.
func (f *Fake) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Closed is the number of sessions closed so far.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Targets lists what sessions navigated to, in order.
func (f *Fake) Targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func (f *Fake) Open(ctx context.Context, creds cadastre.Credentials, workDir string) (*Session, error) {
	f.mu.Lock()
	f.opened++
	n := f.opened
	f.mu.Unlock()

	err := f.fail(n, portal.STEP_OPEN, "")
	if err != nil {
		return nil, err
	}
	return &Session{fake: f, n: n, workDir: workDir}, nil
}

type Session struct {
	fake    *Fake
	n       int
	workDir string
	target  string
}

var _ portal.Extractor = (*Session)(nil)
var _ portal.Lister = (*Session)(nil)

func (s *Session) Access(ctx context.Context) error {
	return s.fake.fail(s.n, portal.STEP_ACCESS, "")
}

func (s *Session) Login(ctx context.Context) error {
	return s.fake.fail(s.n, portal.STEP_LOGIN, "")
}

func (s *Session) Navigate(ctx context.Context, target string) error {
	s.fake.mu.Lock()
	s.fake.targets = append(s.fake.targets, target)
	s.fake.mu.Unlock()

	s.target = target
	return s.fake.fail(s.n, portal.STEP_NAVIGATE, target)
}

func (s *Session) Extract(ctx context.Context) (portal.Extraction, error) {
	err := s.fake.fail(s.n, portal.STEP_EXTRACT, s.target)
	if err != nil {
		return portal.Extraction{}, err
	}

	var files []string
	for _, name := range s.fake.Files {
		path := filepath.Join(s.workDir, name)
		err := os.WriteFile(path, []byte("fake "+name), 0644)
		if err != nil {
			return portal.Extraction{}, err
		}
		files = append(files, path)
	}

	fields := make(map[string]cadastre.Value, len(s.fake.Fields))
	for k, v := range s.fake.Fields {
		fields[k] = v
	}
	return portal.Extraction{Fields: fields, Files: files}, nil
}

func (s *Session) ListIndices(ctx context.Context) ([]string, error) {
	err := s.fake.fail(s.n, portal.STEP_EXTRACT, s.target)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.fake.Indices...), nil
}

func (s *Session) Close() error {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	s.fake.closed++
	return nil
}
