package raft

// Config carries a node's timing and storage settings.
type Config struct {
	// Election timeout in milliseconds; each election waits a random
	// duration within these bounds
	ElectionTimeoutMin int
	ElectionTimeoutMax int

	// How often a Leader should send Append Entry heartbeats
	HeartbeatInterval int

	// How often RPCs should be retried
	RPCRetryInterval int

	// Directory holding the node state file and the entry WAL
	StorageDir string
}

func DefaultConfig() Config {
	return Config{
		ElectionTimeoutMin: 150,
		ElectionTimeoutMax: 300,
		HeartbeatInterval:  75,
		RPCRetryInterval:   75,
		StorageDir:         "/tmp",
	}
}
