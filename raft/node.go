package raft

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

type NodeStatus uint32

const (
	Follower NodeStatus = iota // default
	Candidate
	Leader
	Shutdown
)

// StateMachine receives committed application commands in log order.
// Membership commands are consumed by the node itself and never reach it.
type StateMachine interface {
	Apply(command Command)
}

type Node struct {
	mu sync.Mutex

	// Persistent state on all servers
	storage  *StableStorage
	logStore *LogStore
	log      []LogEntry // guarded by mu

	// Volatile state on all servers
	commitIndex atomic.Int32 // Index of highest log entry known to be committed (-1 if none)
	lastApplied atomic.Int32 // Index of highest log entry applied to state machine (-1 if none)
	status      NodeStatus

	// Volatile state on leaders
	nextIndex  map[int]int // For each server, index of the next log entry to send to that server
	matchIndex map[int]int // For each server, index of highest log entry known to be replicated on server

	// Server and cluster state
	serverId      int          // the id of this server
	leaderId      atomic.Int32 // the id of the leader, or -1 if unknown
	cluster       []Address    // List of all node addresses in the cluster
	peers         []*Peer      // Peer information and RPC clients
	configuration ConfigSet    // latest applied membership configuration
	jointPhase    bool         // set while a JointConfiguration entry is the latest applied

	// Decoding and application of replicated commands
	registry     *Registry
	stateMachine StateMachine

	// For followers to know that they are receiving RPCs from other nodes
	lastContact     time.Time
	lastContactLock sync.Mutex

	// Configuration for timeouts and heartbeats
	config Config
}

func NewNode(serverId int, cluster []Address, config Config, registry *Registry, stateMachine StateMachine) *Node {
	r := new(Node)

	stateFile := filepath.Join(config.StorageDir, fmt.Sprintf("raft-node-%d.state", serverId))
	r.storage = NewStableStorage(stateFile)

	walDir := filepath.Join(config.StorageDir, fmt.Sprintf("raft-node-%d.wal", serverId))
	logStore, err := NewLogStore(walDir, registry)
	if err != nil {
		log.Fatalf("node-%d failed to open log store: %s", serverId, err)
	}
	r.logStore = logStore

	entries, err := logStore.Entries()
	if err != nil {
		log.Fatalf("node-%d failed to restore log: %s", serverId, err)
	}
	r.log = entries
	if len(entries) > 0 {
		log.Infof("node-%d restored %d log entries", serverId, len(entries))
	}

	r.commitIndex.Store(-1)
	r.lastApplied.Store(-1)
	r.status = Follower

	r.nextIndex = make(map[int]int)
	r.matchIndex = make(map[int]int)

	r.serverId = serverId
	r.leaderId.Store(-1)
	r.cluster = cluster
	r.peers = make([]*Peer, 0)

	ids := make([]uint64, 0, len(cluster))
	for i := range cluster {
		ids = append(ids, uint64(i))
	}
	r.configuration = NewConfigSet(ids...)

	r.registry = registry
	r.stateMachine = stateMachine

	r.lastContact = time.Now()

	r.config = config

	// Create list of peers
	for i, address := range r.cluster {
		if i != serverId {
			r.peers = append(r.peers, NewPeer(i, address))
		}
	}

	// Register RPC handler and serve immediately
	r.startRpcServer()

	return r
}

func (node *Node) ConnectToCluster() {
	for _, peer := range node.peers {
		err := peer.Connect()
		if err != nil {
			log.Fatalf("node-%d failed to connect to node-%d, reason: %s", node.serverId, peer.id, err)
		} else {
			log.Debugf("node-%d connected to node-%d", node.serverId, peer.id)
		}
	}
}

// Helper functions for getting states, in case we want to implement persistence / atomic operations
func (node *Node) getCurrentTerm() uint64 {
	currentTerm, err := node.storage.GetCurrentTerm()
	if err != nil {
		log.Errorf("node-%d failed to get currentTerm: %s", node.serverId, err)
	}
	return currentTerm
}

func (node *Node) setCurrentTerm(currentTerm uint64) {
	err := node.storage.SetCurrentTerm(currentTerm)
	if err != nil {
		log.Errorf("node-%d failed to set currentTerm: %s", node.serverId, err)
	}
}

func (node *Node) getVotedFor() Optional[int] {
	votedFor, err := node.storage.GetVotedFor()
	if err != nil {
		log.Errorf("node-%d failed to get votedFor: %s", node.serverId, err)
	}
	return votedFor
}

func (node *Node) setVotedFor(votedFor int) {
	err := node.storage.SetVotedFor(votedFor)
	if err != nil {
		log.Errorf("node-%d failed to set votedFor: %s", node.serverId, err)
	}
}

func (node *Node) getStatus() NodeStatus {
	return NodeStatus(atomic.LoadUint32((*uint32)(&node.status)))
}

func (node *Node) setStatus(status NodeStatus) {
	statusAddr := (*uint32)(&node.status)
	atomic.StoreUint32(statusAddr, uint32(status))
}

func (node *Node) getLeaderId() int {
	return int(node.leaderId.Load())
}

func (node *Node) setLeaderId(leaderId int) {
	node.leaderId.Store(int32(leaderId))
}

func (node *Node) getCommitIndex() int {
	return int(node.commitIndex.Load())
}

func (node *Node) setCommitIndex(commitIndex int) {
	node.commitIndex.Store(int32(commitIndex))
}

func (node *Node) getLastApplied() int {
	return int(node.lastApplied.Load())
}

func (node *Node) setLastApplied(lastApplied int) {
	node.lastApplied.Store(int32(lastApplied))
}

func (node *Node) getLastContact() time.Time {
	node.lastContactLock.Lock()
	defer node.lastContactLock.Unlock()
	return node.lastContact
}

func (node *Node) setLastContact(lastContact time.Time) {
	node.lastContactLock.Lock()
	defer node.lastContactLock.Unlock()
	node.lastContact = lastContact
}

// Configuration returns the latest applied membership configuration.
func (node *Node) Configuration() ConfigSet {
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.configuration
}

// Determine if a candidate's log is at least as up-to-date as the receiver's log.
// Caller must hold node.mu.
func (node *Node) isCandidateUpToDate(lastLogTerm uint64, lastLogIndex int) bool {
	idx, term := node.lastLogIndexAndTerm()
	return lastLogTerm > term || (lastLogTerm == term && lastLogIndex >= idx)
}

// Retrieve the index and the term of the last log entry (-1, 0 if no
// entries). Caller must hold node.mu.
func (node *Node) lastLogIndexAndTerm() (int, uint64) {
	lastIndex := len(node.log) - 1
	if lastIndex < 0 {
		return -1, 0
	}
	return lastIndex, node.log[lastIndex].Term
}

// SubmitCommand appends command to the replicated log. On a follower the
// command is forwarded to the current leader in its encoded form.
func (node *Node) SubmitCommand(command Command) error {
	node.mu.Lock()
	if node.getStatus() != Leader {
		node.mu.Unlock()
		return node.forwardToLeader(command)
	}

	entry := LogEntry{Term: node.getCurrentTerm(), Command: command}
	node.log = append(node.log, entry)
	slot := uint64(len(node.log)) // WAL slots are 1-indexed
	err := node.logStore.Append(slot, entry)
	node.mu.Unlock()

	if err != nil {
		return err
	}
	log.Debugf("node-%d appended %s at index %d", node.serverId, entry, slot-1)
	return nil
}

// ChangeConfiguration appends the membership-change entries moving the
// cluster to newConfiguration: the joint entry first, then the single entry.
// When each phase is safe to commit is the membership protocol's concern.
func (node *Node) ChangeConfiguration(newConfiguration ConfigSet) error {
	old := node.Configuration()
	err := node.SubmitCommand(JointConfiguration{
		OldConfiguration: old,
		NewConfiguration: newConfiguration,
	})
	if err != nil {
		return err
	}
	return node.SubmitCommand(SingleConfiguration{
		OldConfiguration: old,
		Configuration:    newConfiguration,
	})
}

func (node *Node) forwardToLeader(command Command) error {
	leaderPeer := node.getLeaderPeer()
	if leaderPeer == nil {
		return errors.New("no known leader")
	}

	data, err := MarshalCommand(command)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = callRPC[SubmitResponse](
		leaderPeer,
		"Node.Submit",
		SubmitArgs{Command: data},
		node.config.RPCRetryInterval,
		ctx,
	)
	return err
}

func (node *Node) getLeaderPeer() *Peer {
	leaderId := node.getLeaderId()
	for _, peer := range node.peers {
		if peer.id == leaderId {
			return peer
		}
	}
	return nil
}

// truncateLog shrinks the persisted log to length entries after a conflict.
func (node *Node) truncateLog(length int) {
	var err error
	if length == 0 {
		err = node.logStore.Reset()
	} else {
		err = node.logStore.TruncateBack(uint64(length))
	}
	if err != nil {
		log.Errorf("node-%d failed to truncate log store: %s", node.serverId, err)
	}
}

// applyLogCommands applies every committed, unapplied entry in order.
// Membership entries update the node's configuration view; everything else
// goes to the state machine. Caller must hold node.mu.
func (node *Node) applyLogCommands() {
	for node.getLastApplied() < node.getCommitIndex() {
		idx := node.getLastApplied() + 1
		entry := node.log[idx]
		node.setLastApplied(idx)

		if entry.Command == nil {
			continue
		}

		switch command := entry.Command.(type) {
		case SingleConfiguration:
			node.configuration = command.Configuration
			node.jointPhase = false
			log.Infof("node-%d adopted configuration %v", node.serverId, command.Configuration)
		case JointConfiguration:
			node.jointPhase = true
			log.Infof(
				"node-%d entered joint configuration %v + %v",
				node.serverId,
				command.OldConfiguration,
				command.NewConfiguration,
			)
		default:
			if node.stateMachine != nil {
				node.stateMachine.Apply(command)
			}
		}
	}
}

// Main event loop for this RaftNode
func (node *Node) Run() {
	for {
		switch node.getStatus() {
		case Follower:
			node.runFollower()
		case Candidate:
			node.runCandidate()
		case Leader:
			node.runLeader()
		case Shutdown:
			return
		}
	}
}

func (node *Node) runFollower() {
	electionTimer := NewRandomTimer(node.config.ElectionTimeoutMin, node.config.ElectionTimeoutMax)
	for node.getStatus() == Follower {
		<-electionTimer.C
		if time.Since(node.getLastContact()) > electionTimer.timeout {
			node.convertToCandidate()
			return
		}
		electionTimer = NewRandomTimer(node.config.ElectionTimeoutMin, node.config.ElectionTimeoutMax)
	}
}

func (node *Node) runCandidate() {
	// Call RequestVote on peers
	voteChannel := node.startElection()
	electionTimer := NewRandomTimer(node.config.ElectionTimeoutMin, node.config.ElectionTimeoutMax)

	votesReceived := 0
	for node.getStatus() == Candidate {
		select {
		case vote := <-voteChannel:
			// If RPC response contains term T > currentTerm: set currentTerm = T, convert to follower (Section 5.1)
			if vote.CurrentTerm > node.getCurrentTerm() {
				log.Debugf(
					"node-%d received vote with higher term %d, converting to follower",
					node.serverId,
					vote.CurrentTerm,
				)
				node.convertToFollower(vote.CurrentTerm)
				return
			}

			if vote.VoteGranted {
				votesReceived++
			}

			if votesReceived >= (len(node.cluster)+1)/2 {
				log.Infof(
					"node-%d received majority of votes (%d/%d), converting to leader",
					node.serverId,
					votesReceived,
					len(node.cluster),
				)
				node.convertToLeader()
				return
			}
		case <-electionTimer.C:
			log.Debugf(
				"node-%d election timer expired after %d ms",
				node.serverId,
				electionTimer.timeout/time.Millisecond,
			)
			return
		}
	}
}

func (node *Node) startElection() <-chan RequestVoteResponse {
	log.Debugf("node-%d is starting election", node.serverId)

	// Create a vote response channel
	voteChannel := make(chan RequestVoteResponse, len(node.cluster))

	// Increment our current term
	node.setCurrentTerm(node.getCurrentTerm() + 1)

	// Vote for self
	node.setVotedFor(node.serverId)
	voteChannel <- RequestVoteResponse{node.getCurrentTerm(), true, node.serverId}

	// Request votes from all peers in parallel; give up when a full election
	// timeout has passed
	node.mu.Lock()
	idx, term := node.lastLogIndexAndTerm()
	node.mu.Unlock()

	args := RequestVoteArgs{node.getCurrentTerm(), node.serverId, idx, term}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(time.Duration(node.config.ElectionTimeoutMax)*time.Millisecond, cancel)
	callPeers(node, "Node.RequestVote", args, node.config.RPCRetryInterval, ctx, voteChannel)

	return voteChannel
}

func (node *Node) runLeader() {
	node.mu.Lock()
	lastIndex, _ := node.lastLogIndexAndTerm()
	for _, peer := range node.peers {
		node.nextIndex[peer.id] = lastIndex + 1
		node.matchIndex[peer.id] = -1
	}
	node.mu.Unlock()

	heartbeatTicker := time.NewTicker(
		time.Duration(node.config.HeartbeatInterval) * time.Millisecond,
	)
	defer heartbeatTicker.Stop()

	for node.getStatus() == Leader {
		log.Debugf("node-%d sending heartbeats", node.serverId)
		for _, peer := range node.peers {
			go node.replicateToPeer(peer)
		}
		<-heartbeatTicker.C
	}
}

// replicateToPeer sends one AppendEntries carrying everything the peer is
// missing; an empty batch doubles as the heartbeat.
func (node *Node) replicateToPeer(p *Peer) {
	node.mu.Lock()
	if node.getStatus() != Leader {
		node.mu.Unlock()
		return
	}

	next := node.nextIndex[p.id]
	prevLogIndex := next - 1
	var prevLogTerm uint64
	if prevLogIndex >= 0 {
		prevLogTerm = node.log[prevLogIndex].Term
	}

	// Entries travel as their canonical interchange bytes; the follower
	// decodes them with its own registry
	entries := make([][]byte, 0, len(node.log)-next)
	for _, entry := range node.log[next:] {
		data, err := entry.Marshal()
		if err != nil {
			log.Errorf("node-%d failed to encode %s: %s", node.serverId, entry, err)
			node.mu.Unlock()
			return
		}
		entries = append(entries, data)
	}

	args := AppendEntriesArgs{
		LeaderTerm:   node.getCurrentTerm(),
		LeaderId:     node.serverId,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: node.getCommitIndex(),
	}
	node.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reply, err := callRPCNoRetry[AppendEntriesResponse](p, "Node.AppendEntries", args, ctx)
	if err != nil || !reply.HasValue() {
		log.Debugf("node-%d AppendEntries to node-%d failed: %s", node.serverId, p.id, err)
		return
	}
	response := reply.Value()

	node.mu.Lock()
	defer node.mu.Unlock()

	if response.CurrentTerm > node.getCurrentTerm() {
		node.convertToFollower(response.CurrentTerm)
		return
	}

	if node.getStatus() != Leader || response.CurrentTerm != args.LeaderTerm {
		return
	}

	if response.Success {
		node.nextIndex[p.id] = next + len(entries)
		node.matchIndex[p.id] = node.nextIndex[p.id] - 1
		node.advanceCommitIndex()
	} else if node.nextIndex[p.id] > 0 {
		// Walk back until the logs agree (Section 5.3)
		node.nextIndex[p.id]--
	}
}

// advanceCommitIndex commits the highest current-term entry replicated on a
// majority (Section 5.4.2). Caller must hold node.mu.
func (node *Node) advanceCommitIndex() {
	lastIndex, _ := node.lastLogIndexAndTerm()
	for n := lastIndex; n > node.getCommitIndex(); n-- {
		if node.log[n].Term != node.getCurrentTerm() {
			break
		}

		votes := 1
		for _, peer := range node.peers {
			if node.matchIndex[peer.id] >= n {
				votes++
			}
		}

		if votes >= (len(node.cluster)+1)/2 {
			node.setCommitIndex(n)
			node.applyLogCommands()
			return
		}
	}
}

// State conversion functions
func (node *Node) convertToFollower(term uint64) {
	log.Infof("node-%d converting to follower", node.serverId)
	node.setCurrentTerm(term)
	node.setStatus(Follower)
}

func (node *Node) convertToCandidate() {
	log.Infof("node-%d converting to candidate", node.serverId)
	node.setStatus(Candidate)
}

func (node *Node) convertToLeader() {
	log.Infof("node-%d converting to leader", node.serverId)
	node.setStatus(Leader)
}
