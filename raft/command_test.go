package raft

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeSingleConfiguration(t *testing.T) {
	command := SingleConfiguration{
		OldConfiguration: NewConfigSet(5, 42, 85, 13531, 8354),
		Configuration:    NewConfigSet(42, 85, 13531, 8354),
	}

	data, err := json.Marshal(command.ToJSON())
	if err != nil {
		t.Fatal(err)
	}

	expected := `{"configuration":{"instanceIds":[42,85,8354,13531]},"oldConfiguration":{"instanceIds":[5,42,85,8354,13531]}}`
	if string(data) != expected {
		t.Fatalf("expected %s, got %s", expected, data)
	}
}

func TestEncodeJointConfiguration(t *testing.T) {
	command := JointConfiguration{
		OldConfiguration: NewConfigSet(5, 42, 85, 13531, 8354),
		NewConfiguration: NewConfigSet(42, 85, 13531, 8354),
	}

	data, err := json.Marshal(command.ToJSON())
	if err != nil {
		t.Fatal(err)
	}

	expected := `{"newConfiguration":{"instanceIds":[42,85,8354,13531]},"oldConfiguration":{"instanceIds":[5,42,85,8354,13531]}}`
	if string(data) != expected {
		t.Fatalf("expected %s, got %s", expected, data)
	}
}

func TestEncodeIsCanonicalRegardlessOfInsertionOrder(t *testing.T) {
	orderings := [][]uint64{
		{5, 42, 85, 13531, 8354},
		{8354, 13531, 85, 42, 5},
		{85, 5, 8354, 42, 13531},
	}

	var previous []byte
	for _, ids := range orderings {
		command := SingleConfiguration{
			OldConfiguration: NewConfigSet(ids...),
			Configuration:    NewConfigSet(),
		}
		data, err := json.Marshal(command.ToJSON())
		if err != nil {
			t.Fatal(err)
		}
		if previous != nil && string(data) != string(previous) {
			t.Fatalf("expected identical encodings, got %s and %s", previous, data)
		}
		previous = data
	}
}

func TestDecodeSingleConfiguration(t *testing.T) {
	encoded := []byte(`{
		"type": "SingleConfiguration",
		"command": {
			"oldConfiguration": {"instanceIds": [5, 42, 85, 8354, 13531]},
			"configuration": {"instanceIds": [42, 85, 8354, 13531]}
		}
	}`)

	command, err := DecodeCommand(encoded, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	if command.CommandType() != SingleConfigurationType {
		t.Fatalf("expected SingleConfiguration, got %s", command.CommandType())
	}

	single, ok := command.(SingleConfiguration)
	if !ok {
		t.Fatalf("expected SingleConfiguration, got %T", command)
	}

	if !single.OldConfiguration.Equal(NewConfigSet(5, 42, 85, 13531, 8354)) {
		t.Fatalf("unexpected old configuration %v", single.OldConfiguration)
	}
	if !single.Configuration.Equal(NewConfigSet(42, 85, 13531, 8354)) {
		t.Fatalf("unexpected configuration %v", single.Configuration)
	}
}

func TestDecodeJointConfiguration(t *testing.T) {
	encoded := []byte(`{
		"type": "JointConfiguration",
		"command": {
			"oldConfiguration": {"instanceIds": [5, 42, 85, 8354, 13531]},
			"newConfiguration": {"instanceIds": [42, 85, 8354, 13531]}
		}
	}`)

	command, err := DecodeCommand(encoded, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	joint, ok := command.(JointConfiguration)
	if !ok {
		t.Fatalf("expected JointConfiguration, got %T", command)
	}

	if !joint.OldConfiguration.Equal(NewConfigSet(5, 42, 85, 13531, 8354)) {
		t.Fatalf("unexpected old configuration %v", joint.OldConfiguration)
	}
	if !joint.NewConfiguration.Equal(NewConfigSet(42, 85, 13531, 8354)) {
		t.Fatalf("unexpected new configuration %v", joint.NewConfiguration)
	}
}

func TestDecodeMissingSubObjectYieldsEmptySet(t *testing.T) {
	encoded := []byte(`{
		"type": "SingleConfiguration",
		"command": {
			"configuration": {"instanceIds": [42, 85]}
		}
	}`)

	command, err := DecodeCommand(encoded, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	single := command.(SingleConfiguration)
	if len(single.OldConfiguration) != 0 {
		t.Fatalf("expected empty old configuration, got %v", single.OldConfiguration)
	}
	if !single.Configuration.Equal(NewConfigSet(42, 85)) {
		t.Fatalf("unexpected configuration %v", single.Configuration)
	}
}

func TestDecodeMissingInstanceIdsYieldsEmptySet(t *testing.T) {
	encoded := []byte(`{
		"type": "JointConfiguration",
		"command": {
			"oldConfiguration": {},
			"newConfiguration": {"instanceIds": "not-an-array"}
		}
	}`)

	command, err := DecodeCommand(encoded, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	joint := command.(JointConfiguration)
	if len(joint.OldConfiguration) != 0 || len(joint.NewConfiguration) != 0 {
		t.Fatalf("expected empty sets, got %v and %v", joint.OldConfiguration, joint.NewConfiguration)
	}
}

func TestDecodeMissingType(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"command": {}}`), NewRegistry())
	if !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}

	// A non-string discriminator is as good as a missing one
	_, err = DecodeCommand([]byte(`{"type": 7, "command": {}}`), NewRegistry())
	if !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestDecodeMissingCommandBody(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type": "SingleConfiguration"}`), NewRegistry())
	if !errors.Is(err, ErrMissingCommand) {
		t.Fatalf("expected ErrMissingCommand, got %v", err)
	}
}

func TestDecodeUnknownCommandType(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type": "DoesNotExist", "command": {}}`), NewRegistry())
	if !errors.Is(err, ErrUnknownCommandType) {
		t.Fatalf("expected ErrUnknownCommandType, got %v", err)
	}
}

func TestCommandEquality(t *testing.T) {
	single := SingleConfiguration{
		OldConfiguration: NewConfigSet(1, 2, 3),
		Configuration:    NewConfigSet(2, 3),
	}
	joint := JointConfiguration{
		OldConfiguration: NewConfigSet(1, 2, 3),
		NewConfiguration: NewConfigSet(2, 3),
	}

	if !single.Equal(SingleConfiguration{
		OldConfiguration: NewConfigSet(3, 2, 1),
		Configuration:    NewConfigSet(3, 2),
	}) {
		t.Fatal("expected equality to ignore insertion order")
	}

	if single.Equal(joint) {
		t.Fatal("expected different variants to be unequal")
	}

	if single.Equal(SingleConfiguration{
		OldConfiguration: NewConfigSet(1, 2, 3),
		Configuration:    NewConfigSet(2, 4),
	}) {
		t.Fatal("expected sets differing in one element to be unequal")
	}
}

func TestCommandString(t *testing.T) {
	command := SingleConfiguration{
		OldConfiguration: NewConfigSet(2, 1),
		Configuration:    NewConfigSet(2),
	}
	if command.String() != "SingleConfiguration([1 2] -> [2])" {
		t.Fatalf("unexpected rendering %q", command.String())
	}

	jointCommand := JointConfiguration{
		OldConfiguration: NewConfigSet(1),
		NewConfiguration: NewConfigSet(1, 3),
	}
	if jointCommand.String() != "JointConfiguration([1] -> [1 3])" {
		t.Fatalf("unexpected rendering %q", jointCommand.String())
	}
}
