package projectdb_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/beeprep/waggle/internal/apperr"
	"github.com/beeprep/waggle/internal/models"
	"github.com/beeprep/waggle/internal/testutil"
)

func TestUpsertAssignsID(t *testing.T) {
	db := testutil.TestDB(t)

	id, err := db.UpsertProject(context.Background(), &models.Project{Name: "bio"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("no id assigned")
	}

	p, err := db.GetProject(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "bio" {
		t.Errorf("name = %q", p.Name)
	}
	if string(p.CanvasState) != "{}" {
		t.Errorf("canvas state = %q, want empty object", p.CanvasState)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := context.Background()

	id, err := db.UpsertProject(ctx, &models.Project{Name: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	state := json.RawMessage(`{"nodes":[{"id":"a","kind":"process"}]}`)
	if _, err := db.UpsertProject(ctx, &models.Project{ID: id, Name: "v2", CanvasState: state}); err != nil {
		t.Fatal(err)
	}

	p, err := db.GetProject(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "v2" || string(p.CanvasState) != string(state) {
		t.Errorf("project = %+v", p)
	}

	list, err := db.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list = %d, want 1", len(list))
	}
}

func TestGetProjectNotFound(t *testing.T) {
	db := testutil.TestDB(t)
	if _, err := db.GetProject(context.Background(), "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListOrdersByRecency(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := context.Background()

	first, err := db.UpsertProject(ctx, &models.Project{Name: "first"})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	second, err := db.UpsertProject(ctx, &models.Project{Name: "second"})
	if err != nil {
		t.Fatal(err)
	}

	list, err := db.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d", len(list))
	}
	if list[0].ID != second || list[1].ID != first {
		t.Errorf("order = %s, %s", list[0].ID, list[1].ID)
	}
}

func TestDelete(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := context.Background()

	id, err := db.UpsertProject(ctx, &models.Project{Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(id); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetProject(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted project still readable: %v", err)
	}
	if err := db.Delete(id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("double delete err = %v", err)
	}
}
