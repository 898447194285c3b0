package main

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"zoneraft/common"
	"zoneraft/dns"
	"zoneraft/raft"
)

type cluster []raft.Address

func (c *cluster) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *cluster) Set(address string) error {
	id, err := raft.AddressFromString(address)
	if err != nil {
		return err
	}
	*c = append(*c, id)
	return nil
}

func runLocalCluster() {
	members := []raft.Address{
		raft.NewAddress("localhost", 9000),
		raft.NewAddress("localhost", 9001),
		raft.NewAddress("localhost", 9002),
	}

	config := raft.DefaultConfig()

	// Construct every server first so all RPC listeners exist before any
	// node tries to connect
	servers := make([]*dns.DDNSServer, len(members))
	for i := range members {
		servers[i] = dns.NewDDNSServer(8053+i, i, members, config)
	}

	for _, server := range servers {
		go server.Run()
	}

	select {}
}

func main() {
	common.InitLogger()

	members := cluster{}
	flag.Var(&members, "node", "ip:port of other nodes in the cluster")
	id := flag.Int("id", 0, "id of this node")
	dnsPort := flag.Int("dns-port", 8053, "UDP port for the DNS server")
	flag.Parse()

	if len(members) == 0 {
		log.Warn("Cluster not specified, running local cluster")
		runLocalCluster()
		return
	}

	server := dns.NewDDNSServer(*dnsPort, *id, members, raft.DefaultConfig())
	server.Run()
}
