package registry

import (
	"time"

	"github.com/samber/lo"

	"lifxsync/internal/lights"
)

// DeviceRecord is everything the registry knows about one bulb.
type DeviceRecord struct {
	Address      string            `json:"address"`
	Label        string            `json:"label"`
	Version      lights.Version    `json:"version"`
	Mode         lights.Mode       `json:"mode"`
	Enabled      bool              `json:"enabled"`
	Restore      lights.LightState `json:"restore"`
	DiscoveredAt time.Time         `json:"discoveredAt"`
}

// recordStore keeps records keyed by address in discovery order. It does no
// locking of its own.
type recordStore struct {
	order   []string
	records map[string]*DeviceRecord
}

func newRecordStore() *recordStore {
	return &recordStore{records: make(map[string]*DeviceRecord)}
}

// put inserts rec and reports whether the address was new. For a registered
// address only the label and version are refreshed; the restore snapshot is
// replaced only after the bulb has been removed.
func (s *recordStore) put(rec DeviceRecord) bool {
	if cur, ok := s.records[rec.Address]; ok {
		cur.Label, cur.Version = rec.Label, rec.Version
		return false
	}
	s.records[rec.Address] = &rec
	s.order = append(s.order, rec.Address)
	return true
}

func (s *recordStore) remove(addr string) bool {
	if _, ok := s.records[addr]; !ok {
		return false
	}
	delete(s.records, addr)
	s.order = lo.Without(s.order, addr)
	return true
}

func (s *recordStore) get(addr string) (DeviceRecord, bool) {
	rec, ok := s.records[addr]
	if !ok {
		return DeviceRecord{}, false
	}
	return *rec, true
}

func (s *recordStore) update(addr string, fn func(*DeviceRecord)) bool {
	rec, ok := s.records[addr]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// list returns copies of all records in discovery order.
func (s *recordStore) list() []DeviceRecord {
	return lo.Map(s.order, func(addr string, _ int) DeviceRecord {
		return *s.records[addr]
	})
}

func (s *recordStore) len() int {
	return len(s.records)
}
