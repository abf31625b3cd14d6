package gossip

import (
	"math/rand"
	"reflect"
	"testing"
	"time"
)

const (
	testFail   = 5 * time.Second
	testRemove = 20 * time.Second
)

func newTestTable(self NodeID) *MemberTable {
	return NewMemberTable(self, TimeoutDetector{Fail: testFail, Remove: testRemove}, rand.New(rand.NewSource(1)))
}

func nid(i uint32) NodeID { return NodeID{ID: i} }

func TestUpsertResults(t *testing.T) {
	tbl := newTestTable(nid(1))

	if got := tbl.Upsert(nid(2), 3, time.Second); got != Inserted {
		t.Fatalf("first Upsert = %v, want inserted", got)
	}
	if got := tbl.Upsert(nid(2), 3, 2*time.Second); got != Ignored {
		t.Fatalf("equal heartbeat Upsert = %v, want ignored", got)
	}
	if got := tbl.Upsert(nid(2), 1, 2*time.Second); got != Ignored {
		t.Fatalf("older heartbeat Upsert = %v, want ignored", got)
	}
	if got := tbl.Upsert(nid(2), 4, 5*time.Second); got != Updated {
		t.Fatalf("newer heartbeat Upsert = %v, want updated", got)
	}
	rec, _ := tbl.Get(nid(2))
	want := MemberRecord{ID: nid(2), Heartbeat: 4, LastRefreshed: 5 * time.Second, Alive: true}
	if rec != want {
		t.Fatalf("record = %+v, want %+v", rec, want)
	}
}

func TestMergeIdempotent(t *testing.T) {
	snapshot := []MemberRecord{
		{ID: nid(2), Heartbeat: 5},
		{ID: nid(3), Heartbeat: 1},
		{ID: nid(4), Heartbeat: 9},
	}
	apply := func(tbl *MemberTable) {
		for _, r := range snapshot {
			tbl.Upsert(r.ID, r.Heartbeat, time.Second)
		}
	}

	once := newTestTable(nid(1))
	apply(once)
	twice := newTestTable(nid(1))
	apply(twice)
	apply(twice)

	if !reflect.DeepEqual(once.Records(), twice.Records()) {
		t.Fatalf("twice = %+v, once = %+v", twice.Records(), once.Records())
	}
}

func TestMergeMonotone(t *testing.T) {
	tbl := newTestTable(nid(1))
	rng := rand.New(rand.NewSource(7))
	last := map[NodeID]int64{}
	for i := 0; i < 1000; i++ {
		id := nid(uint32(2 + rng.Intn(4)))
		tbl.Upsert(id, rng.Int63n(50), time.Duration(i)*time.Millisecond)
		rec, _ := tbl.Get(id)
		if rec.Heartbeat < last[id] {
			t.Fatalf("step %d: heartbeat of %v went %d -> %d", i, id, last[id], rec.Heartbeat)
		}
		last[id] = rec.Heartbeat
	}
}

func TestFailureDetectionTiming(t *testing.T) {
	tbl := newTestTable(nid(1))
	t0 := 10 * time.Second
	tbl.Upsert(nid(2), 1, t0)

	inSnapshot := func(now time.Duration) bool {
		for _, r := range tbl.SnapshotForGossip(now) {
			if r.ID == nid(2) {
				return true
			}
		}
		return false
	}

	if !inSnapshot(t0 + testFail) {
		t.Fatal("record excluded at exactly T_FAIL")
	}
	if inSnapshot(t0 + testFail + 1) {
		t.Fatal("record still gossiped after T_FAIL")
	}
	if dead := tbl.ExpireStale(t0 + testFail + testRemove); len(dead) != 0 {
		t.Fatalf("ExpireStale at T_FAIL+T_REMOVE = %v, want none", dead)
	}
	if rec, _ := tbl.Get(nid(2)); !rec.Alive {
		t.Fatal("suspected record tombstoned early")
	}
	dead := tbl.ExpireStale(t0 + testFail + testRemove + 1)
	if !reflect.DeepEqual(dead, []NodeID{nid(2)}) {
		t.Fatalf("ExpireStale = %v, want [%v]", dead, nid(2))
	}
	if dead := tbl.ExpireStale(t0 + time.Hour); len(dead) != 0 {
		t.Fatalf("second ExpireStale = %v, want none", dead)
	}
}

func TestSuspectedRecordRevivedByLateHeartbeat(t *testing.T) {
	tbl := newTestTable(nid(1))
	tbl.Upsert(nid(2), 1, 0)
	late := testFail + time.Second
	if got := tbl.Upsert(nid(2), 2, late); got != Updated {
		t.Fatalf("late Upsert = %v, want updated", got)
	}
	if snap := tbl.SnapshotForGossip(late); len(snap) != 1 {
		t.Fatalf("snapshot = %+v, want the refreshed record", snap)
	}
}

func TestTombstoneExclusion(t *testing.T) {
	tbl := newTestTable(nid(1))
	tbl.MarkSelf(nid(1), 0, 0)
	tbl.Upsert(nid(2), 1, 0)
	tbl.Upsert(nid(3), 1, 0)

	now := testFail + testRemove + time.Second
	tbl.MarkSelf(nid(1), 1, now)
	tbl.Upsert(nid(3), 2, now)
	tbl.ExpireStale(now)

	if got := tbl.Upsert(nid(2), 100, now); got != Ignored {
		t.Fatalf("Upsert on tombstone = %v, want ignored", got)
	}
	for _, r := range tbl.SnapshotForGossip(now) {
		if r.ID == nid(2) {
			t.Fatal("tombstoned record in snapshot")
		}
	}
	for i := 0; i < 20; i++ {
		for _, id := range tbl.RandomLiveSample(5) {
			if id == nid(2) {
				t.Fatal("tombstoned record sampled")
			}
		}
	}
	if got := tbl.LiveCount(); got != 2 {
		t.Fatalf("LiveCount = %d, want 2", got)
	}
}

func TestReadmitTombstone(t *testing.T) {
	tbl := newTestTable(nid(1))
	tbl.Upsert(nid(2), 40, 0)
	tbl.ExpireStale(time.Hour)

	if got := tbl.Readmit(nid(2), 0, time.Hour); got != Inserted {
		t.Fatalf("Readmit = %v, want inserted", got)
	}
	rec, _ := tbl.Get(nid(2))
	want := MemberRecord{ID: nid(2), Heartbeat: 0, LastRefreshed: time.Hour, Alive: true}
	if rec != want {
		t.Fatalf("record = %+v, want %+v", rec, want)
	}
	if got := tbl.Readmit(nid(2), 0, time.Hour); got != Ignored {
		t.Fatalf("duplicate Readmit = %v, want ignored", got)
	}
}

func TestRandomLiveSample(t *testing.T) {
	tbl := newTestTable(nid(1))
	tbl.MarkSelf(nid(1), 0, 0)
	if got := tbl.RandomLiveSample(3); len(got) != 0 {
		t.Fatalf("sample with no peers = %v, want empty", got)
	}
	for i := uint32(2); i <= 6; i++ {
		tbl.Upsert(nid(i), 0, 0)
	}

	all := tbl.RandomLiveSample(10)
	if len(all) != 5 {
		t.Fatalf("sample(10) has %d ids, want 5", len(all))
	}
	seen := map[NodeID]int{}
	for i := 0; i < 500; i++ {
		got := tbl.RandomLiveSample(2)
		if len(got) != 2 || got[0] == got[1] {
			t.Fatalf("sample(2) = %v, want two distinct ids", got)
		}
		for _, id := range got {
			if id == nid(1) {
				t.Fatal("sample included self")
			}
			seen[id]++
		}
	}
	if len(seen) != 5 {
		t.Fatalf("500 samples reached %d peers, want 5", len(seen))
	}
	if got := tbl.RandomLiveSample(0); got != nil {
		t.Fatalf("sample(0) = %v, want nil", got)
	}
}

func TestExpireStaleSkipsSelf(t *testing.T) {
	tbl := newTestTable(nid(1))
	tbl.MarkSelf(nid(1), 0, 0)
	if dead := tbl.ExpireStale(time.Hour); len(dead) != 0 {
		t.Fatalf("ExpireStale = %v, want self kept", dead)
	}
}
