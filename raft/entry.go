package raft

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// LogEntry is one slot of the replicated log: the term the entry was created
// in and the command it carries. A nil Command is a valid entry; leaders use
// such no-op slots as heartbeat markers.
type LogEntry struct {
	Term    uint64
	Command Command
}

// ToJSON returns the entry's interchange value: "term" always, plus the
// command's "type" and "command" fields flattened beside it when present.
func (e LogEntry) ToJSON() map[string]any {
	value := map[string]any{"term": e.Term}
	if e.Command != nil {
		value["type"] = e.Command.CommandType()
		value["command"] = e.Command.ToJSON()
	}
	return value
}

// Marshal renders the entry as canonical JSON. Object keys marshal in sorted
// order, so equal entries produce identical bytes on every node.
func (e LogEntry) Marshal() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// DecodeLogEntry rebuilds an entry from its interchange bytes. It cannot
// fail: a missing or non-numeric term reads as 0, and a command that does
// not decode (absent, malformed, or unknown to the registry) is dropped. An
// entry must always be constructible, even from a minimal or partially
// corrupt record; callers that need the command failure use DecodeCommand.
func DecodeLogEntry(data []byte, registry *Registry) LogEntry {
	return decodeLogEntry(gjson.ParseBytes(data), registry)
}

func decodeLogEntry(value gjson.Result, registry *Registry) LogEntry {
	entry := LogEntry{}
	if term := value.Get("term"); term.Type == gjson.Number && term.Num >= 0 {
		entry.Term = term.Uint()
	}
	if command, err := decodeCommand(value, registry); err == nil {
		entry.Command = command
	}
	return entry
}

// Equal is the conjunction of term equality and command equality; two absent
// commands are equal.
func (e LogEntry) Equal(other LogEntry) bool {
	if e.Term != other.Term {
		return false
	}
	if e.Command == nil || other.Command == nil {
		return e.Command == nil && other.Command == nil
	}
	return e.Command.Equal(other.Command)
}

func (e LogEntry) String() string {
	if e.Command == nil {
		return fmt.Sprintf("LogEntry(term=%d)", e.Term)
	}
	return fmt.Sprintf("LogEntry(term=%d, %s)", e.Term, e.Command)
}
