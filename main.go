package main

import (
	"flag"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"zoneraft/common"
	"zoneraft/raft"
)

type cluster []raft.Address

func (c *cluster) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *cluster) Set(value string) error {
	address, err := raft.AddressFromString(value)
	if err != nil {
		return err
	}
	*c = append(*c, address)
	return nil
}

func runLocalCluster() {
	members := cluster{
		raft.NewAddress("localhost", 9000),
		raft.NewAddress("localhost", 9001),
		raft.NewAddress("localhost", 9002),
	}

	config := raft.DefaultConfig()

	// Create array of RaftNode objects
	nodes := make([]*raft.Node, len(members))
	for i := range members {
		nodes[i] = raft.NewNode(i, members, config, raft.NewRegistry(), nil)
	}

	// Connect to all nodes in the cluster
	for _, node := range nodes {
		node.ConnectToCluster()
	}

	// Start the RaftNodes
	wg := sync.WaitGroup{}
	for _, node := range nodes {
		wg.Add(1)
		go func(node *raft.Node) {
			node.Run()
			wg.Done()
		}(node)
	}

	// Once a leader has settled, replicate a membership change end to end
	go func() {
		time.Sleep(2 * time.Second)
		newConfiguration := raft.NewConfigSet(0, 1, 2, 3)
		if err := nodes[0].ChangeConfiguration(newConfiguration); err != nil {
			log.Warnf("Configuration change not accepted: %s", err)
		}
	}()

	// Wait for all nodes to finish
	wg.Wait()
}

func main() {
	common.InitLogger()

	// Parse command line arguments
	members := cluster{}
	flag.Var(&members, "node", "ip:port of other nodes in the cluster")
	id := flag.Int("id", 0, "id of this node")
	flag.Parse()

	if len(members) == 0 {
		log.Warn("Cluster not specified, running local cluster")
		runLocalCluster()
		return
	}

	// Create and run a single RaftNode
	node := raft.NewNode(*id, members, raft.DefaultConfig(), raft.NewRegistry(), nil)
	node.ConnectToCluster()
	node.Run()
}
