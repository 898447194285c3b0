package dns

import (
	"testing"

	"github.com/miekg/dns"

	"zoneraft/raft"
)

func TestZoneCommandRoundTrip(t *testing.T) {
	registry := raft.NewRegistry()
	if err := RegisterCommands(registry); err != nil {
		t.Fatal(err)
	}

	record, err := dns.NewRR("www.example.com. 64 IN A 93.184.216.34")
	if err != nil {
		t.Fatal(err)
	}

	commands := []raft.Command{
		UpdateRecord{Name: "www.example.com.", Record: record.String()},
		RemoveRecord{Name: "www.example.com."},
	}

	for _, command := range commands {
		entry := raft.LogEntry{Term: 4, Command: command}
		data, err := entry.Marshal()
		if err != nil {
			t.Fatal(err)
		}

		decoded := raft.DecodeLogEntry(data, registry)
		if !decoded.Equal(entry) {
			t.Fatalf("expected %s, got %s", entry, decoded)
		}
	}
}

func TestZoneCommandEquality(t *testing.T) {
	a := UpdateRecord{Name: "www.example.com.", Record: "www.example.com. 64 IN A 1.2.3.4"}
	b := UpdateRecord{Name: "www.example.com.", Record: "www.example.com. 64 IN A 5.6.7.8"}

	if !a.Equal(a) {
		t.Fatal("expected command to equal itself")
	}
	if a.Equal(b) {
		t.Fatal("expected commands with different records to differ")
	}
	if a.Equal(RemoveRecord{Name: "www.example.com."}) {
		t.Fatal("expected different command types to differ")
	}
}

func TestZoneStoreApply(t *testing.T) {
	zone := NewZoneStore()

	zone.Apply(UpdateRecord{
		Name:   "www.example.com.",
		Record: "www.example.com. 64 IN A 1.2.3.4",
	})

	records, ok := zone.Records("www.example.com.")
	if !ok || len(records) != 1 {
		t.Fatalf("expected one record, got %v", records)
	}

	// A second A record replaces the first; records of other types survive
	zone.Apply(UpdateRecord{
		Name:   "www.example.com.",
		Record: "www.example.com. 64 IN TXT \"hello\"",
	})
	zone.Apply(UpdateRecord{
		Name:   "www.example.com.",
		Record: "www.example.com. 64 IN A 5.6.7.8",
	})

	records, _ = zone.Records("www.example.com.")
	if len(records) != 2 {
		t.Fatalf("expected two records, got %v", records)
	}
	for _, record := range records {
		if record.Header().Rrtype == dns.TypeA {
			if record.(*dns.A).A.String() != "5.6.7.8" {
				t.Fatalf("expected replaced A record, got %v", record)
			}
		}
	}

	zone.Apply(RemoveRecord{Name: "www.example.com."})
	if _, ok := zone.Records("www.example.com."); ok {
		t.Fatal("expected name to be removed")
	}
}

func TestZoneStoreIgnoresUnparseableRecord(t *testing.T) {
	zone := NewZoneStore()
	zone.Apply(UpdateRecord{Name: "www.example.com.", Record: "not a record"})
	if _, ok := zone.Records("www.example.com."); ok {
		t.Fatal("expected unparseable record to be dropped")
	}
}
