package gossip

import (
	"math/rand"
	"sort"
	"time"
)

// UpsertResult tells the caller what a merge did to the table.
type UpsertResult uint8

const (
	Ignored UpsertResult = iota
	Inserted
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "ignored"
	}
}

// MemberTable is a node's local view of the group. It is not safe for
// concurrent use; the owning Engine serializes access.
type MemberTable struct {
	self     NodeID
	detector FailureDetector
	rng      *rand.Rand
	members  map[NodeID]*MemberRecord
}

// NewMemberTable returns an empty table for the node self. A nil rng gets a
// time-seeded source.
func NewMemberTable(self NodeID, detector FailureDetector, rng *rand.Rand) *MemberTable {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &MemberTable{
		self:     self,
		detector: detector,
		rng:      rng,
		members:  make(map[NodeID]*MemberRecord),
	}
}

// Upsert merges one observation. Tombstoned identities are never revived here.
func (t *MemberTable) Upsert(id NodeID, heartbeat int64, now time.Duration) UpsertResult {
	rec, ok := t.members[id]
	if !ok {
		t.members[id] = &MemberRecord{ID: id, Heartbeat: heartbeat, LastRefreshed: now, Alive: true}
		return Inserted
	}
	if !rec.Alive || heartbeat <= rec.Heartbeat {
		return Ignored
	}
	rec.Heartbeat = heartbeat
	rec.LastRefreshed = now
	return Updated
}

// Readmit is Upsert for the join path: a tombstoned identity that asks to
// join again starts over as a fresh record.
func (t *MemberTable) Readmit(id NodeID, heartbeat int64, now time.Duration) UpsertResult {
	if rec, ok := t.members[id]; ok && !rec.Alive {
		t.members[id] = &MemberRecord{ID: id, Heartbeat: heartbeat, LastRefreshed: now, Alive: true}
		return Inserted
	}
	return t.Upsert(id, heartbeat, now)
}

// MarkSelf records the local node's own heartbeat unconditionally.
func (t *MemberTable) MarkSelf(id NodeID, heartbeat int64, now time.Duration) UpsertResult {
	rec, ok := t.members[id]
	if !ok {
		t.members[id] = &MemberRecord{ID: id, Heartbeat: heartbeat, LastRefreshed: now, Alive: true}
		return Inserted
	}
	rec.Heartbeat = heartbeat
	rec.LastRefreshed = now
	rec.Alive = true
	return Updated
}

// ExpireStale tombstones live records older than the removal threshold and
// returns them in identity order.
func (t *MemberTable) ExpireStale(now time.Duration) []NodeID {
	var dead []NodeID
	for id, rec := range t.members {
		if id == t.self || !rec.Alive {
			continue
		}
		if t.detector.Expired(rec.LastRefreshed, now) {
			rec.Alive = false
			dead = append(dead, id)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].less(dead[j]) })
	return dead
}

// SnapshotForGossip returns the records this node is still willing to vouch
// for: alive and not yet suspected.
func (t *MemberTable) SnapshotForGossip(now time.Duration) []MemberRecord {
	out := make([]MemberRecord, 0, len(t.members))
	for _, rec := range t.members {
		if rec.Alive && !t.detector.Suspected(rec.LastRefreshed, now) {
			out = append(out, *rec)
		}
	}
	sortRecords(out)
	return out
}

// RandomLiveSample picks up to k distinct live peers, self excluded.
func (t *MemberTable) RandomLiveSample(k int) []NodeID {
	if k <= 0 {
		return nil
	}
	live := make([]NodeID, 0, len(t.members))
	for id, rec := range t.members {
		if rec.Alive && id != t.self {
			live = append(live, id)
		}
	}
	// map order is random but not uniform; sort so rng alone decides
	sort.Slice(live, func(i, j int) bool { return live[i].less(live[j]) })
	if k > len(live) {
		k = len(live)
	}
	for i := 0; i < k; i++ {
		j := i + t.rng.Intn(len(live)-i)
		live[i], live[j] = live[j], live[i]
	}
	return live[:k]
}

// Get returns a copy of the record for id.
func (t *MemberTable) Get(id NodeID) (MemberRecord, bool) {
	rec, ok := t.members[id]
	if !ok {
		return MemberRecord{}, false
	}
	return *rec, true
}

// Records returns a copy of every record, tombstones included.
func (t *MemberTable) Records() []MemberRecord {
	out := make([]MemberRecord, 0, len(t.members))
	for _, rec := range t.members {
		out = append(out, *rec)
	}
	sortRecords(out)
	return out
}

// LiveCount counts alive records, self included.
func (t *MemberTable) LiveCount() int {
	n := 0
	for _, rec := range t.members {
		if rec.Alive {
			n++
		}
	}
	return n
}

func sortRecords(recs []MemberRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID.less(recs[j].ID) })
}
