package raft

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

// Wire tags of the built-in membership commands. Decoding handles these
// before consulting the registry, so no custom command may reuse them.
const (
	SingleConfigurationType = "SingleConfiguration"
	JointConfigurationType  = "JointConfiguration"
)

// Command is one replicated log command. The two built-in implementations
// describe cluster membership changes; applications add their own command
// types by implementing this interface and registering a decoder for their
// tag (see Registry).
//
// Implementations must behave as immutable values: encoding, equality and
// rendering may run concurrently over shared commands.
type Command interface {
	// CommandType returns the stable wire tag, used both as the JSON
	// discriminator and as the registry lookup key.
	CommandType() string

	// ToJSON returns the command body placed under the "command" key of an
	// encoded entry. Equal commands must produce equal values regardless of
	// how they were constructed.
	ToJSON() map[string]any

	// Equal reports structural equality. Commands of different dynamic
	// types are never equal.
	Equal(other Command) bool

	fmt.Stringer
}

// ConfigSet is a set of cluster instance ids.
type ConfigSet map[uint64]struct{}

func NewConfigSet(ids ...uint64) ConfigSet {
	s := make(ConfigSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s ConfigSet) Contains(id uint64) bool {
	_, ok := s[id]
	return ok
}

func (s ConfigSet) Equal(other ConfigSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the member ids in ascending order. Sets carry no order of
// their own, so every encode sorts; equal sets always yield identical arrays.
func (s ConfigSet) Sorted() []uint64 {
	ids := make([]uint64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s ConfigSet) String() string {
	return fmt.Sprintf("%v", s.Sorted())
}

// SingleConfiguration is a direct, one-step membership change from
// OldConfiguration to Configuration. The two sets may overlap, be equal or
// be disjoint; transition safety is the membership protocol's concern, not
// the log's.
type SingleConfiguration struct {
	OldConfiguration ConfigSet
	Configuration    ConfigSet
}

func (c SingleConfiguration) CommandType() string {
	return SingleConfigurationType
}

func (c SingleConfiguration) ToJSON() map[string]any {
	return map[string]any{
		"configuration":    map[string]any{"instanceIds": c.Configuration.Sorted()},
		"oldConfiguration": map[string]any{"instanceIds": c.OldConfiguration.Sorted()},
	}
}

func (c SingleConfiguration) Equal(other Command) bool {
	o, ok := other.(SingleConfiguration)
	return ok &&
		c.OldConfiguration.Equal(o.OldConfiguration) &&
		c.Configuration.Equal(o.Configuration)
}

func (c SingleConfiguration) String() string {
	return fmt.Sprintf("SingleConfiguration(%v -> %v)", c.OldConfiguration, c.Configuration)
}

// JointConfiguration is the intermediate phase of a safe reconfiguration, in
// which quorum must be reached in both the old and the new member set.
type JointConfiguration struct {
	OldConfiguration ConfigSet
	NewConfiguration ConfigSet
}

func (c JointConfiguration) CommandType() string {
	return JointConfigurationType
}

func (c JointConfiguration) ToJSON() map[string]any {
	return map[string]any{
		"newConfiguration": map[string]any{"instanceIds": c.NewConfiguration.Sorted()},
		"oldConfiguration": map[string]any{"instanceIds": c.OldConfiguration.Sorted()},
	}
}

func (c JointConfiguration) Equal(other Command) bool {
	o, ok := other.(JointConfiguration)
	return ok &&
		c.OldConfiguration.Equal(o.OldConfiguration) &&
		c.NewConfiguration.Equal(o.NewConfiguration)
}

func (c JointConfiguration) String() string {
	return fmt.Sprintf("JointConfiguration(%v -> %v)", c.OldConfiguration, c.NewConfiguration)
}

// MarshalCommand encodes a command as a standalone {"type", "command"}
// object, the framing DecodeCommand expects. Log entries embed the same two
// fields next to their term (see LogEntry.ToJSON).
func MarshalCommand(command Command) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":    command.CommandType(),
		"command": command.ToJSON(),
	})
}

// DecodeCommand decodes the command carried by data. The built-in membership
// tags are handled directly; any other tag is routed to the decoder
// registered for it. Unlike entry decoding, failures here reach the caller.
func DecodeCommand(data []byte, registry *Registry) (Command, error) {
	return decodeCommand(gjson.ParseBytes(data), registry)
}

func decodeCommand(value gjson.Result, registry *Registry) (Command, error) {
	tag := value.Get("type")
	if tag.Type != gjson.String {
		return nil, ErrMissingType
	}

	body := value.Get("command")
	switch tag.Str {
	case SingleConfigurationType:
		if !body.Exists() {
			return nil, fmt.Errorf("%w: %s", ErrMissingCommand, tag.Str)
		}
		return SingleConfiguration{
			OldConfiguration: decodeInstanceIds(body.Get("oldConfiguration")),
			Configuration:    decodeInstanceIds(body.Get("configuration")),
		}, nil
	case JointConfigurationType:
		if !body.Exists() {
			return nil, fmt.Errorf("%w: %s", ErrMissingCommand, tag.Str)
		}
		return JointConfiguration{
			OldConfiguration: decodeInstanceIds(body.Get("oldConfiguration")),
			NewConfiguration: decodeInstanceIds(body.Get("newConfiguration")),
		}, nil
	}

	decode, ok := registry.resolve(tag.Str)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, tag.Str)
	}
	return decode(body)
}

// decodeInstanceIds reads a {"instanceIds": [...]} configuration object. A
// missing object, missing array or non-numeric element contributes no
// members rather than an error: an absent configuration means no instances.
func decodeInstanceIds(configuration gjson.Result) ConfigSet {
	ids := make(ConfigSet)
	for _, id := range configuration.Get("instanceIds").Array() {
		if id.Type != gjson.Number || id.Num < 0 {
			continue
		}
		ids[id.Uint()] = struct{}{}
	}
	return ids
}
