package stores

import (
	"context"
	"errors"
	"testing"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := sampleState("origin")
	if err := store.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "origin")
	if err != nil {
		t.Fatal(err)
	}
	if got.ProviderID != st.ProviderID || !got.Declared.Equal(st.Declared) {
		t.Errorf("got %+v, want %+v", got, st)
	}

	// Mutating the returned copy must not affect the stored state.
	got.Observed["region"] = "us-east-1"
	again, err := store.Get(ctx, "origin")
	if err != nil {
		t.Fatal(err)
	}
	if again.Observed["region"] != "eu-west-1" {
		t.Error("store returned a shared reference instead of a copy")
	}

	if err := store.Delete(ctx, "origin"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "origin"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRunHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"one", "two", "three"} {
		if err := store.SaveRun(ctx, &engine.RunReport{RunID: id, Status: engine.RunStatusSucceeded}); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "three" || runs[1].RunID != "two" {
		t.Errorf("runs = %v, want newest first capped at 2", runs)
	}
}
