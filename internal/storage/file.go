package storage

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yourname/sleepstreak/internal"
)

// FileStorage is a MemoryStorage whose state is written to JSON files by
// debounced background workers.
type FileStorage struct {
	*MemoryStorage
	sessionsFile     string
	usersFile        string
	saveSessionsChan chan struct{}
	saveUsersChan    chan struct{}
	shutdownChan     chan struct{}
	saveDelay        time.Duration
	closeOnce        sync.Once
	workers          sync.WaitGroup
	logger           internal.Logger
}

func NewFileStorage(sessionsFile, usersFile string, logger internal.Logger) (*FileStorage, error) {
	s := &FileStorage{
		MemoryStorage:    NewMemoryStorage(),
		sessionsFile:     sessionsFile,
		usersFile:        usersFile,
		saveSessionsChan: make(chan struct{}, 1),
		saveUsersChan:    make(chan struct{}, 1),
		shutdownChan:     make(chan struct{}),
		saveDelay:        500 * time.Millisecond,
		logger:           logger,
	}

	for _, f := range []string{sessionsFile, usersFile} {
		if err := os.MkdirAll(filepath.Dir(f), 0755); err != nil {
			return nil, err
		}
	}

	var sessions []*internal.SleepSession
	if err := readJSON(s.sessionsFile, &sessions); err != nil {
		logger.Errorf("storage: failed to load sleep sessions: %v", err)
		return nil, err
	}
	var users []*internal.User
	if err := readJSON(s.usersFile, &users); err != nil {
		logger.Errorf("storage: failed to load users: %v", err)
		return nil, err
	}
	s.load(sessions, users)

	s.onSessions = signal(s.saveSessionsChan)
	s.onUsers = signal(s.saveUsersChan)

	s.workers.Add(2)
	go s.saveWorker(s.saveSessionsChan, s.saveSessions, "sleep sessions")
	go s.saveWorker(s.saveUsersChan, s.saveUsers, "users")

	return s, nil
}

func signal(ch chan struct{}) func() {
	return func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func readJSON(path string, dst interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func atomicWriteFileJSON(filePath string, data interface{}) error {
	tempFile := filePath + ".tmp"
	f, err := os.Create(tempFile)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, filePath)
}

func (s *FileStorage) saveSessions() error {
	return atomicWriteFileJSON(s.sessionsFile, s.snapshotSessions())
}

func (s *FileStorage) saveUsers() error {
	return atomicWriteFileJSON(s.usersFile, s.snapshotUsers())
}

// saveWorker batches writes: every signal pushes the deadline back by
// saveDelay.
func (s *FileStorage) saveWorker(ch <-chan struct{}, save func() error, what string) {
	defer s.workers.Done()
	timer := time.NewTimer(s.saveDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ch:
			timer.Reset(s.saveDelay)
		case <-timer.C:
			if err := save(); err != nil {
				s.logger.Errorf("storage: error saving %s: %v", what, err)
			}
		case <-s.shutdownChan:
			return
		}
	}
}

// Close stops the workers and flushes pending data synchronously.
func (s *FileStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdownChan)
		s.workers.Wait()
		err = errors.Join(s.saveSessions(), s.saveUsers())
	})
	return err
}

var _ Store = (*FileStorage)(nil)
