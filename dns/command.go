package dns

import (
	"fmt"

	"github.com/tidwall/gjson"

	"zoneraft/raft"
)

// Wire tags of the zone commands. The raft layer knows nothing about DNS;
// these are registered with the node's command registry at startup.
const (
	UpdateRecordType = "UpdateRecord"
	RemoveRecordType = "RemoveRecord"
)

// UpdateRecord sets one resource record on a name, replacing any existing
// record of the same rrtype. Record holds the record in zone-file
// presentation format (dns.RR.String()), which survives JSON intact and
// parses back with dns.NewRR.
type UpdateRecord struct {
	Name   string
	Record string
}

func (c UpdateRecord) CommandType() string {
	return UpdateRecordType
}

func (c UpdateRecord) ToJSON() map[string]any {
	return map[string]any{"name": c.Name, "record": c.Record}
}

func (c UpdateRecord) Equal(other raft.Command) bool {
	o, ok := other.(UpdateRecord)
	return ok && c.Name == o.Name && c.Record == o.Record
}

func (c UpdateRecord) String() string {
	return fmt.Sprintf("UpdateRecord(%s: %s)", c.Name, c.Record)
}

// RemoveRecord deletes every record of a name.
type RemoveRecord struct {
	Name string
}

func (c RemoveRecord) CommandType() string {
	return RemoveRecordType
}

func (c RemoveRecord) ToJSON() map[string]any {
	return map[string]any{"name": c.Name}
}

func (c RemoveRecord) Equal(other raft.Command) bool {
	o, ok := other.(RemoveRecord)
	return ok && c.Name == o.Name
}

func (c RemoveRecord) String() string {
	return fmt.Sprintf("RemoveRecord(%s)", c.Name)
}

// RegisterCommands installs the zone command decoders.
func RegisterCommands(registry *raft.Registry) error {
	if err := registry.Register(UpdateRecordType, decodeUpdateRecord); err != nil {
		return err
	}
	return registry.Register(RemoveRecordType, decodeRemoveRecord)
}

func decodeUpdateRecord(body gjson.Result) (raft.Command, error) {
	return UpdateRecord{
		Name:   body.Get("name").String(),
		Record: body.Get("record").String(),
	}, nil
}

func decodeRemoveRecord(body gjson.Result) (raft.Command, error) {
	return RemoveRecord{Name: body.Get("name").String()}, nil
}
