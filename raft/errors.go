package raft

import "errors"

// Failures surfaced by DecodeCommand. DecodeLogEntry swallows all of these
// and degrades to an entry without a command; callers that need the reason
// decode the command directly.
var (
	// ErrMissingType: the value carries no "type" discriminator.
	ErrMissingType = errors.New("command has no type field")

	// ErrMissingCommand: a built-in type tag with no "command" body next to it.
	ErrMissingCommand = errors.New("command has no body")

	// ErrUnknownCommandType: the tag is not built in and no decoder is
	// registered for it.
	ErrUnknownCommandType = errors.New("unknown command type")

	// ErrReservedCommandType: attempted to register a decoder under one of
	// the built-in membership tags.
	ErrReservedCommandType = errors.New("command type is reserved")
)
