package repos

import (
  "context"
  "testing"

  "gorm.io/datatypes"

  "github.com/yungbote/minirag-backend/internal/repos/testutil"
  "github.com/yungbote/minirag-backend/internal/types"
)

func TestQueryLogRepoCreateAssignsIDs(t *testing.T) {
  db := testutil.DB(t)
  tx := testutil.Tx(t, db)
  log := testutil.Logger(t)
  ctx := context.Background()
  repo := NewQueryLogRepo(db, log)
  user := testutil.SeedUser(t, ctx, tx, "owner@example.com")
  project := testutil.SeedProject(t, ctx, tx, user.UserID, 42)

  created, err := repo.Create(ctx, tx, []*types.QueryLog{{
    UserID:         user.UserID,
    ProjectID:      project.ProjectID,
    Question:       "What is the capital of France?",
    LLMResponse:    "Paris.",
    ResponseTimeMs: 42.5,
    CitedChunkIDs:  datatypes.JSON([]byte("[101]")),
  }})
  if err != nil {
    t.Fatalf("Create: %v", err)
  }
  if created[0].LogID == 0 {
    t.Fatalf("log id not assigned")
  }
}

func TestQueryLogRepoListByUserNewestFirst(t *testing.T) {
  db := testutil.DB(t)
  tx := testutil.Tx(t, db)
  log := testutil.Logger(t)
  ctx := context.Background()
  repo := NewQueryLogRepo(db, log)
  alice := testutil.SeedUser(t, ctx, tx, "alice@example.com")
  bob := testutil.SeedUser(t, ctx, tx, "bob@example.com")
  project := testutil.SeedProject(t, ctx, tx, alice.UserID, 42)
  testutil.SeedQueryLog(t, ctx, tx, alice.UserID, project.ProjectID, "first")
  testutil.SeedQueryLog(t, ctx, tx, alice.UserID, project.ProjectID, "second")
  testutil.SeedQueryLog(t, ctx, tx, alice.UserID, project.ProjectID, "third")
  bobProject := testutil.SeedProject(t, ctx, tx, bob.UserID, 7)
  testutil.SeedQueryLog(t, ctx, tx, bob.UserID, bobProject.ProjectID, "other")

  page1, total, err := repo.ListByUser(ctx, tx, alice.UserID, 1, 2)
  if err != nil {
    t.Fatalf("ListByUser page 1: %v", err)
  }
  if total != 3 || len(page1) != 2 {
    t.Fatalf("page 1: want total=3 len=2, got total=%d len=%d", total, len(page1))
  }
  if page1[0].Question != "third" || page1[1].Question != "second" {
    t.Fatalf("newest first: got %q then %q", page1[0].Question, page1[1].Question)
  }

  page2, _, err := repo.ListByUser(ctx, tx, alice.UserID, 2, 2)
  if err != nil {
    t.Fatalf("ListByUser page 2: %v", err)
  }
  if len(page2) != 1 || page2[0].Question != "first" {
    t.Fatalf("page 2: got %+v", page2)
  }
}
