package raft

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/wal"
)

type Storage interface {
	GetCurrentTerm() (uint64, error)
	SetCurrentTerm(term uint64) error
	GetVotedFor() (Optional[int], error)
	SetVotedFor(votedFor int) error
}

// StableStorage is a two-line file that stores the current term and the
// voted-for node id, rewritten atomically on every update.
type StableStorage struct {
	rwLock sync.RWMutex
	path   string
}

func NewStableStorage(path string) *StableStorage {
	// Check if the file exists, otherwise create it
	if _, err := os.Stat(path); os.IsNotExist(err) {
		bytes := []byte("0\n-1\n")
		err := os.WriteFile(path, bytes, 0644)
		if err != nil {
			log.Fatalf("failed to create storage file: %s", err)
		}
	}

	return &StableStorage{path: path}
}

func (s *StableStorage) Reset() error {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	return s.write(0, -1)
}

func (s *StableStorage) GetCurrentTerm() (uint64, error) {
	s.rwLock.RLock()
	defer s.rwLock.RUnlock()
	return s.getCurrentTerm()
}

func (s *StableStorage) GetVotedFor() (Optional[int], error) {
	s.rwLock.RLock()
	defer s.rwLock.RUnlock()
	return s.getVotedFor()
}

func (s *StableStorage) SetCurrentTerm(term uint64) error {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()

	votedFor, err := s.getVotedFor()
	if err != nil {
		return err
	}

	return s.write(term, votedFor.ValueOr(-1))
}

func (s *StableStorage) SetVotedFor(votedFor int) error {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()

	currentTerm, err := s.getCurrentTerm()
	if err != nil {
		return err
	}

	return s.write(currentTerm, votedFor)
}

func (s *StableStorage) getCurrentTerm() (uint64, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Scan()

	currentTerm, err := strconv.ParseUint(scanner.Text(), 10, 64)
	if err != nil {
		return 0, err
	}

	return currentTerm, nil
}

func (s *StableStorage) getVotedFor() (Optional[int], error) {
	file, err := os.Open(s.path)
	if err != nil {
		return None[int](), err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Scan()
	scanner.Scan()

	votedFor, err := strconv.Atoi(scanner.Text())
	if err != nil {
		return None[int](), err
	}

	if votedFor == -1 {
		return None[int](), nil
	}

	return Some(votedFor), nil
}

// Write the new state to a temporary file, then rename it over the original
func (s *StableStorage) write(currentTerm uint64, votedFor int) error {
	file, err := os.OpenFile(s.path+".tmp", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	str := fmt.Sprintf("%d\n%d\n", currentTerm, votedFor)
	_, err = file.WriteString(str)
	if err != nil {
		file.Close()
		return err
	}

	if err := file.Close(); err != nil {
		return err
	}

	return os.Rename(s.path+".tmp", s.path)
}

// LogStore persists encoded entries in a write-ahead log. Slots are
// 1-indexed to match the WAL's indexing; the in-memory log is 0-indexed, so
// slot = index + 1. Entries are stored as their canonical JSON bytes and
// decoded through the registry on the way back out, which also means the
// on-disk format is the interchange format and can be inspected offline.
type LogStore struct {
	mu       sync.Mutex
	path     string
	wal      *wal.Log
	registry *Registry
}

func NewLogStore(path string, registry *Registry) (*LogStore, error) {
	w, err := wal.Open(path, nil)
	if err != nil {
		return nil, err
	}
	return &LogStore{path: path, wal: w, registry: registry}, nil
}

// Append writes entry at slot, which must be the slot after the last one
// (the first slot is 1).
func (s *LogStore) Append(slot uint64, entry LogEntry) error {
	data, err := entry.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Write(slot, data)
}

// Entry reads and decodes the entry at slot.
func (s *LogStore) Entry(slot uint64) (LogEntry, error) {
	s.mu.Lock()
	data, err := s.wal.Read(slot)
	s.mu.Unlock()
	if err != nil {
		return LogEntry{}, err
	}
	return DecodeLogEntry(data, s.registry), nil
}

// Entries restores the whole log in slot order.
func (s *LogStore) Entries() ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, err := s.wal.FirstIndex()
	if err != nil {
		return nil, err
	}
	last, err := s.wal.LastIndex()
	if err != nil {
		return nil, err
	}
	if last == 0 {
		return nil, nil
	}

	entries := make([]LogEntry, 0, last-first+1)
	for slot := first; slot <= last; slot++ {
		data, err := s.wal.Read(slot)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DecodeLogEntry(data, s.registry))
	}
	return entries, nil
}

// TruncateBack drops every entry after slot, for deleting a conflicting
// suffix.
func (s *LogStore) TruncateBack(slot uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.TruncateBack(slot)
}

// Reset drops every entry. The WAL cannot truncate to empty, so the log is
// recreated instead.
func (s *LogStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.path); err != nil {
		return err
	}

	w, err := wal.Open(s.path, nil)
	if err != nil {
		return err
	}
	s.wal = w
	return nil
}

func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
