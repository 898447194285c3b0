package dns

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"

	"zoneraft/raft"
)

const (
	ResourceRecordTTL = 64
	UpdateTimeout     = 5 * time.Second
)

// ZoneStore holds the replicated zone and is the raft state machine on every
// node: committed zone commands land here, in log order.
type ZoneStore struct {
	mu      sync.RWMutex
	records map[string][]dns.RR
}

func NewZoneStore() *ZoneStore {
	return &ZoneStore{records: make(map[string][]dns.RR)}
}

func (z *ZoneStore) Apply(command raft.Command) {
	switch c := command.(type) {
	case UpdateRecord:
		record, err := dns.NewRR(c.Record)
		if err != nil || record == nil {
			log.Errorf("Dropping unparseable record for %s: %v", c.Name, err)
			return
		}
		z.mu.Lock()
		kept := make([]dns.RR, 0, len(z.records[c.Name])+1)
		for _, existing := range z.records[c.Name] {
			if existing.Header().Rrtype != record.Header().Rrtype {
				kept = append(kept, existing)
			}
		}
		z.records[c.Name] = append(kept, record)
		z.mu.Unlock()
		log.Debugf("Zone store applied %s", c)
	case RemoveRecord:
		z.mu.Lock()
		delete(z.records, c.Name)
		z.mu.Unlock()
		log.Debugf("Zone store applied %s", c)
	default:
		log.Warnf("Zone store ignoring command %s", command.CommandType())
	}
}

// Records returns the records of a name.
func (z *ZoneStore) Records(name string) ([]dns.RR, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	records, ok := z.records[name]
	if !ok {
		return nil, false
	}
	return append([]dns.RR(nil), records...), true
}

type DDNSServer struct {
	inner    *dns.Server
	zone     *ZoneStore
	raftNode *raft.Node
}

func NewDDNSServer(
	dnsListenPort int,
	raftNodeId int,
	raftCluster []raft.Address,
	raftConfig raft.Config,
) *DDNSServer {
	registry := raft.NewRegistry()
	if err := RegisterCommands(registry); err != nil {
		log.Fatalf("Failed to register zone commands: %v", err)
	}

	zone := NewZoneStore()

	address := fmt.Sprintf("0.0.0.0:%v", dnsListenPort)
	mux := dns.NewServeMux()
	server := &DDNSServer{
		inner:    &dns.Server{Addr: address, Net: "udp", Handler: mux},
		zone:     zone,
		raftNode: raft.NewNode(raftNodeId, raftCluster, raftConfig, registry, zone),
	}
	server.inner.MsgAcceptFunc = server.msgAcceptFunc
	mux.HandleFunc(".", func(w dns.ResponseWriter, m *dns.Msg) {
		server.handleRequest(w, m)
	})
	return server
}

func (s *DDNSServer) Run() {
	go func() {
		if err := s.inner.ListenAndServe(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	s.raftNode.ConnectToCluster()
	s.raftNode.Run()
}

func (s *DDNSServer) handleRequest(w dns.ResponseWriter, r *dns.Msg) {
	if r.Opcode == dns.OpcodeQuery {
		s.handleQueryRequest(w, r)
	} else if r.Opcode == dns.OpcodeUpdate {
		s.handleUpdateRequest(w, r)
	} else {
		m := new(dns.Msg)
		m.SetReply(r)
		m.SetRcode(r, dns.RcodeNotImplemented)
		w.WriteMsg(m)
	}
}

func (s *DDNSServer) handleQueryRequest(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	for _, question := range r.Question {
		records, ok := s.zone.Records(question.Name)
		if !ok {
			log.Warnf("Record not found for %s", question.Name)
			m.Rcode = dns.RcodeNameError
		} else {
			for _, record := range records {
				if question.Qtype == record.Header().Rrtype || question.Qtype == dns.TypeANY {
					if record.Header().Rrtype == dns.TypeNS {
						m.Ns = append(m.Ns, record)
					} else {
						m.Answer = append(m.Answer, record)
					}
				}
			}

			// Keep response tidy, regardless of record insertion order
			sort.Slice(m.Answer, func(i, j int) bool {
				return m.Answer[i].Header().Rrtype < m.Answer[j].Header().Rrtype
			})
		}
	}

	w.WriteMsg(m)
}

func (s *DDNSServer) handleUpdateRequest(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	if len(r.Ns) == 0 {
		m.Rcode = dns.RcodeFormatError
	} else {
		for _, record := range r.Ns {
			var command raft.Command
			if record.Header().Class == dns.ClassANY {
				// Delete all RRs from a name
				command = RemoveRecord{Name: record.Header().Name}
			} else {
				command = UpdateRecord{Name: record.Header().Name, Record: record.String()}
			}
			if err := s.raftNode.SubmitCommand(command); err != nil {
				m.Rcode = dns.RcodeServerFailure
				log.Errorf("Failed to replicate %s: %v", command, err)
			}
		}
	}

	w.WriteMsg(m)
}

func (s *DDNSServer) msgAcceptFunc(dh dns.Header) dns.MsgAcceptAction {
	opcode := int(dh.Bits>>11) & 0xF
	if opcode == dns.OpcodeUpdate {
		return dns.MsgAccept
	}
	return dns.DefaultMsgAcceptFunc(dh)
}

func connect(server string, serverPort string) (dns.Client, *dns.Conn) {
	client := dns.Client{Net: "udp"}
	conn, err := client.Dial(server + ":" + serverPort)
	if err != nil {
		log.Fatalf("Error dialing server: %v", err)
	}
	return client, conn
}

type DDNSClient struct {
	zone       string
	domain     string
	monitorIp  func(chan netip.Addr)
	serverConn *dns.Conn
	dnsClient  *dns.Client
	serverPort string
}

func NewDDNSClient(zone string, domain string, server string, serverPort string, monitorIp func(chan netip.Addr)) *DDNSClient {
	client, conn := connect(server, serverPort)
	log.Debugf("Created dynamic DNS client for %s in zone %s with server %s", domain, zone, server)
	return &DDNSClient{
		zone:       zone,
		domain:     domain,
		monitorIp:  monitorIp,
		serverConn: conn,
		dnsClient:  &client,
		serverPort: serverPort,
	}
}

// Run watches the monitored IP and pushes a dynamic update on every change.
func (c *DDNSClient) Run() {
	ch := make(chan netip.Addr)
	go c.monitorIp(ch)
	for addr := range ch {
		m := c.CreateUpdateMessage(addr)
		log.Debugf("Updating %s to %s", c.domain, addr)
		c.SendUpdate(addr, m)
	}
}

func (c *DDNSClient) SendMessage(m *dns.Msg) (r *dns.Msg, rtt time.Duration, err error) {
	reply, rtt, err := c.dnsClient.ExchangeWithConn(m, c.serverConn)

	if err != nil {
		return nil, 0, err
	}

	if reply.Id != m.Id {
		return nil, 0, fmt.Errorf("received response with mismatched ID: %d != %d", reply.Id, m.Id)
	}

	if reply.Rcode != dns.RcodeSuccess {
		return nil, 0, fmt.Errorf("received error response: %v", dns.RcodeToString[reply.Rcode])
	}

	return reply, rtt, err
}

func (c *DDNSClient) SendUpdate(addr netip.Addr, m *dns.Msg) {
	timer := time.NewTimer(UpdateTimeout)
	for {
		select {
		case <-timer.C:
			log.Errorf("Update for %s to %s timed out", c.domain, addr)
			return
		default:
			_, rtt, err := c.SendMessage(m)
			if err == nil {
				log.Infof("Successfully updated %s to %s in %v", c.domain, addr, rtt)
				return
			}
			log.Errorf("Error updating %s to %s: %v", c.domain, addr, err)
		}
	}
}

func (c *DDNSClient) CreateQuestion(domain string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(domain, dns.TypeA)
	return m
}

func (c *DDNSClient) CreateUpdateMessage(addr netip.Addr) *dns.Msg {
	m := new(dns.Msg)
	m.SetUpdate(c.zone)
	if addr.Is6() {
		m.Insert([]dns.RR{
			&dns.AAAA{
				Hdr: dns.RR_Header{
					Name:   c.domain,
					Rrtype: dns.TypeAAAA,
					Class:  dns.ClassINET,
					Ttl:    ResourceRecordTTL,
				},
				AAAA: addr.AsSlice(),
			},
		})
	} else {
		m.Insert([]dns.RR{
			&dns.A{
				Hdr: dns.RR_Header{
					Name:   c.domain,
					Rrtype: dns.TypeA,
					Class:  dns.ClassINET,
					Ttl:    ResourceRecordTTL,
				},
				A: addr.AsSlice(),
			},
		})
	}
	return m
}

func (c *DDNSClient) CreateRemoveRRsetMessage() *dns.Msg {
	m := new(dns.Msg)
	m.SetUpdate(c.zone)
	m.RemoveRRset([]dns.RR{
		&dns.ANY{
			Hdr: dns.RR_Header{
				Name: c.domain,
			},
		},
	})
	return m
}
