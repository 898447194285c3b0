package raft

import (
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
)

// CommandDecoder builds a command from the "command" body of an encoded
// entry. The body may not exist if the entry carried none; decoders pick
// their own defaulting policy for that case.
type CommandDecoder func(body gjson.Result) (Command, error)

// Registry maps custom command tags to their decoders. Decoding consults it
// for every tag that is not built in. Applications populate it during
// startup, before any decode that may encounter their tags; lookups are safe
// from any number of goroutines.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]CommandDecoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]CommandDecoder)}
}

// Register installs the decoder for tag. The built-in membership tags are
// reserved and rejected. Registering a tag twice replaces the earlier
// decoder.
func (r *Registry) Register(tag string, decode CommandDecoder) error {
	if tag == SingleConfigurationType || tag == JointConfigurationType {
		return fmt.Errorf("%w: %q", ErrReservedCommandType, tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[tag] = decode
	return nil
}

func (r *Registry) resolve(tag string) (CommandDecoder, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	decode, ok := r.decoders[tag]
	return decode, ok
}
