package raft

import (
	"path/filepath"
	"testing"
)

func TestStorageCurrentTerm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.state")
	s := NewStableStorage(path)

	var term uint64 = 20000
	err := s.SetCurrentTerm(term)
	if err != nil {
		t.Fatal(err)
	}

	term2, err := s.GetCurrentTerm()
	if err != nil {
		t.Fatal(err)
	}

	if term != term2 {
		t.Fatal("expected term to be equal")
	}

	term = 56
	err = s.SetCurrentTerm(term)
	if err != nil {
		t.Fatal(err)
	}

	term2, err = s.GetCurrentTerm()
	if err != nil {
		t.Fatal(err)
	}

	if term != term2 {
		t.Fatal("expected term to be equal")
	}
}

func TestStorageVotedFor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.state")
	s := NewStableStorage(path)

	votedFor := 5
	err := s.SetVotedFor(votedFor)
	if err != nil {
		t.Fatal(err)
	}

	votedFor2, err := s.GetVotedFor()
	if err != nil {
		t.Fatal(err)
	}

	if !votedFor2.HasValue() {
		t.Fatal("expected votedFor to be set")
	}

	if votedFor2.Value() != votedFor {
		t.Fatal("expected votedFor to be equal")
	}
}

func TestStorageVotedForEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.state")
	s := NewStableStorage(path)

	votedFor, err := s.GetVotedFor()
	if err != nil {
		t.Fatal(err)
	}

	if votedFor.HasValue() {
		t.Fatal("expected votedFor to be empty")
	}
}

func TestStorageReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.state")
	s := NewStableStorage(path)

	if err := s.SetCurrentTerm(2000); err != nil {
		t.Fatal(err)
	}
	if err := s.SetVotedFor(5); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}

	term, err := s.GetCurrentTerm()
	if err != nil {
		t.Fatal(err)
	}
	if term != 0 {
		t.Fatalf("expected term 0 after reset, got %d", term)
	}

	votedFor, err := s.GetVotedFor()
	if err != nil {
		t.Fatal(err)
	}
	if votedFor.HasValue() {
		t.Fatal("expected votedFor to be empty after reset")
	}
}

func testEntries() []LogEntry {
	return []LogEntry{
		{Term: 1},
		{Term: 1, Command: SingleConfiguration{
			OldConfiguration: NewConfigSet(0, 1, 2),
			Configuration:    NewConfigSet(0, 1, 2, 3),
		}},
		{Term: 2, Command: JointConfiguration{
			OldConfiguration: NewConfigSet(0, 1, 2, 3),
			NewConfiguration: NewConfigSet(1, 2, 3),
		}},
	}
}

func TestLogStoreAppendAndRead(t *testing.T) {
	s, err := NewLogStore(filepath.Join(t.TempDir(), "entries.wal"), NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	entries := testEntries()
	for i, entry := range entries {
		if err := s.Append(uint64(i+1), entry); err != nil {
			t.Fatal(err)
		}
	}

	for i, entry := range entries {
		stored, err := s.Entry(uint64(i + 1))
		if err != nil {
			t.Fatal(err)
		}
		if !stored.Equal(entry) {
			t.Fatalf("expected %s at slot %d, got %s", entry, i+1, stored)
		}
	}
}

func TestLogStoreRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.wal")
	registry := NewRegistry()

	s, err := NewLogStore(path, registry)
	if err != nil {
		t.Fatal(err)
	}

	entries := testEntries()
	for i, entry := range entries {
		if err := s.Append(uint64(i+1), entry); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen and restore everything
	s, err = NewLogStore(path, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	restored, err := s.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(restored))
	}
	for i, entry := range entries {
		if !restored[i].Equal(entry) {
			t.Fatalf("expected %s at %d, got %s", entry, i, restored[i])
		}
	}
}

func TestLogStoreEmptyRestore(t *testing.T) {
	s, err := NewLogStore(filepath.Join(t.TempDir(), "entries.wal"), NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	entries, err := s.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty log, got %d entries", len(entries))
	}
}

func TestLogStoreTruncateBack(t *testing.T) {
	s, err := NewLogStore(filepath.Join(t.TempDir(), "entries.wal"), NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	entries := testEntries()
	for i, entry := range entries {
		if err := s.Append(uint64(i+1), entry); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.TruncateBack(1); err != nil {
		t.Fatal(err)
	}

	remaining, err := s.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 entry after truncation, got %d", len(remaining))
	}
	if !remaining[0].Equal(entries[0]) {
		t.Fatalf("expected %s, got %s", entries[0], remaining[0])
	}

	// Appending after truncation reuses the freed slots
	replacement := LogEntry{Term: 7}
	if err := s.Append(2, replacement); err != nil {
		t.Fatal(err)
	}
	stored, err := s.Entry(2)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Equal(replacement) {
		t.Fatalf("expected %s, got %s", replacement, stored)
	}
}

func TestLogStoreReset(t *testing.T) {
	s, err := NewLogStore(filepath.Join(t.TempDir(), "entries.wal"), NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for i, entry := range testEntries() {
		if err := s.Append(uint64(i+1), entry); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty log after reset, got %d entries", len(entries))
	}

	// The first slot is writable again
	if err := s.Append(1, LogEntry{Term: 4}); err != nil {
		t.Fatal(err)
	}
}
