package run

import (
	"fmt"
	"sync"
	"testing"

	"github.com/nvidra/photoflow/pkg/schema"
)

func TestResultTable_PutAndGet(t *testing.T) {
	tbl := NewResultTable()

	err := tbl.Put(&schema.StageResult{ItemID: "img_001", Stage: "metadata", Status: schema.ResultSuccess})
	if err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	res := tbl.Get("metadata", "img_001")
	if res == nil || res.Status != schema.ResultSuccess {
		t.Fatalf("get returned %+v", res)
	}
	if tbl.Get("metadata", "missing") != nil {
		t.Error("expected nil for unknown item")
	}
}

func TestResultTable_DuplicateWriteRejected(t *testing.T) {
	tbl := NewResultTable()
	res := &schema.StageResult{ItemID: "img_001", Stage: "quality", Status: schema.ResultSuccess}

	if err := tbl.Put(res); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err := tbl.Put(res)
	if err == nil {
		t.Fatal("expected conflict on duplicate write")
	}
	perr, ok := err.(*schema.PipelineError)
	if !ok || perr.Code != schema.ErrCodeConflict {
		t.Errorf("expected CONFLICT, got %v", err)
	}
}

func TestResultTable_ConcurrentDistinctWrites(t *testing.T) {
	tbl := NewResultTable()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := tbl.Put(&schema.StageResult{
				ItemID: fmt.Sprintf("img_%03d", i),
				Stage:  "metadata",
				Status: schema.ResultSuccess,
			})
			if err != nil {
				t.Errorf("put img_%03d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := tbl.StageCount("metadata"); got != n {
		t.Errorf("stage count = %d, want %d", got, n)
	}
}

func TestResultTable_StageSnapshotIsCopy(t *testing.T) {
	tbl := NewResultTable()
	_ = tbl.Put(&schema.StageResult{ItemID: "a", Stage: "s", Status: schema.ResultSuccess})

	snap := tbl.Stage("s")
	delete(snap, "a")

	if tbl.Get("s", "a") == nil {
		t.Error("snapshot deletion leaked into table")
	}
}
