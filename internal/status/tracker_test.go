package status

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/af-corp/ccproxy/internal/types"
)

func TestTracker_SyncJoinsByName(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.Sync([]string{"a", "b"})
	tr.Claim("a", 1)
	tr.Record(context.Background(), "a", 1, Outcome{Result: types.ResultSuccess})

	tr.Sync([]string{"a", "c"})

	if got := tr.Result("a"); got != types.ResultSuccess {
		t.Errorf("a = %s, want success preserved across sync", got)
	}
	if _, ok := tr.Get("b"); ok {
		t.Error("b should be dropped")
	}
	if e, ok := tr.Get("c"); !ok || e.Result != types.ResultUnknown {
		t.Errorf("c should be initialized to unknown, got %+v", e)
	}
}

func TestTracker_StaleWriteDiscarded(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.Sync([]string{"p"})
	ctx := context.Background()

	if !tr.Claim("p", 1) {
		t.Fatal("run 1 should claim p")
	}
	if !tr.Claim("p", 2) {
		t.Fatal("run 2 should claim p")
	}
	if !tr.Record(ctx, "p", 2, Outcome{Result: types.ResultFailure, Error: "timeout"}) {
		t.Fatal("run 2 write should be accepted")
	}
	if tr.Record(ctx, "p", 1, Outcome{Result: types.ResultSuccess}) {
		t.Error("late write from run 1 should be discarded")
	}

	e, _ := tr.Get("p")
	if e.Result != types.ResultFailure || e.RunID != 2 {
		t.Errorf("final entry = %+v, want run 2 failure", e)
	}
	if tr.Claim("p", 1) {
		t.Error("an older run must not reclaim a provider")
	}
}

func TestTracker_UnrevisitedProviderKeepsOlderRun(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.Sync([]string{"p1", "p2"})
	ctx := context.Background()

	tr.Claim("p1", 1)
	tr.Claim("p2", 1)
	tr.Claim("p2", 2)

	if !tr.Record(ctx, "p1", 1, Outcome{Result: types.ResultSuccess}) {
		t.Error("run 1 write for p1 should be accepted; run 2 never revisited p1")
	}
	if tr.Record(ctx, "p2", 1, Outcome{Result: types.ResultSuccess}) {
		t.Error("run 1 write for p2 should be discarded")
	}
}

func TestTracker_RecordUntracked(t *testing.T) {
	tr := NewTracker(nil, nil)
	if tr.Claim("ghost", 1) {
		t.Error("claim on untracked provider should fail")
	}
	if tr.Record(context.Background(), "ghost", 1, Outcome{Result: types.ResultSuccess}) {
		t.Error("record on untracked provider should fail")
	}
	if tr.Result("ghost") != types.ResultUnknown {
		t.Error("untracked result should be unknown")
	}
}

func TestTracker_ConcurrentProviders(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), nil)
	var names []string
	for i := 0; i < 50; i++ {
		names = append(names, fmt.Sprintf("p%d", i))
	}
	tr.Sync(names)

	var wg sync.WaitGroup
	for run := uint64(1); run <= 4; run++ {
		for _, name := range names {
			wg.Add(1)
			go func(name string, run uint64) {
				defer wg.Done()
				if tr.Claim(name, run) {
					tr.Record(context.Background(), name, run, Outcome{Result: types.ResultSuccess})
				}
				_ = tr.List(names)
			}(name, run)
		}
	}
	wg.Wait()

	for _, e := range tr.List(names) {
		if e.Result != types.ResultSuccess {
			t.Errorf("%s = %s", e.Provider, e.Result)
		}
	}
}

func TestTracker_SeedAndPersist(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.SaveResult(ctx, Entry{Provider: "a", Result: types.ResultFailure, Error: "401"})
	_ = store.SaveResult(ctx, Entry{Provider: "gone", Result: types.ResultSuccess})

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTracker(store, nil)
	tr.Sync([]string{"a", "b"})
	tr.Seed(records)

	if got := tr.Result("a"); got != types.ResultFailure {
		t.Errorf("a = %s, want seeded failure", got)
	}
	if _, ok := tr.Get("gone"); ok {
		t.Error("records for unknown providers must not be seeded")
	}

	tr.Claim("b", 1)
	tr.Record(ctx, "b", 1, Outcome{Result: types.ResultSuccess, Model: "m"})
	records, _ = store.Load(ctx)
	var found bool
	for _, r := range records {
		if r.Provider == "b" && r.Result == types.ResultSuccess && r.Model == "m" {
			found = true
		}
	}
	if !found {
		t.Errorf("accepted result should be persisted, got %+v", records)
	}
}
