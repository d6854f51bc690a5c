package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/docyard/internal/jobtype"
	"github.com/zulandar/docyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Document{}, &models.ProcessingJob{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testStore(t *testing.T) (*Store, *models.Document) {
	t.Helper()
	s := New(testDB(t))
	doc, err := s.CreateDocument(context.Background(), "report.docx", "")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return s, doc
}

func TestCreate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)

	created, err := s.Create(ctx, doc.ID, jobtype.OCR)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.JobType != "ocr" {
		t.Errorf("JobType = %q, want %q", got.JobType, "ocr")
	}
	if got.DocumentID != doc.ID {
		t.Errorf("DocumentID = %d, want %d", got.DocumentID, doc.ID)
	}
	if got.Status != models.JobQueued {
		t.Errorf("Status = %q, want %q", got.Status, models.JobQueued)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("new job should have no started_at or completed_at")
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, doc := testStore(t)
	if _, err := s.Create(context.Background(), 0, jobtype.Tile); err == nil {
		t.Error("expected error for zero documentID")
	}
	if _, err := s.Create(context.Background(), doc.ID, jobtype.Type("webp")); err == nil {
		t.Error("expected error for invalid job type")
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _ := testStore(t)
	_, err := s.Get(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(999) error = %v, want ErrNotFound", err)
	}
}

func TestCreateSet_OnePerTypeAndMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)

	jobs, err := s.CreateSet(ctx, doc.ID, jobtype.All())
	if err != nil {
		t.Fatalf("CreateSet: %v", err)
	}
	if len(jobs) != 4 {
		t.Fatalf("len(jobs) = %d, want 4", len(jobs))
	}
	for i, j := range jobs {
		if j.JobType != string(jobtype.All()[i]) {
			t.Errorf("jobs[%d].JobType = %q", i, j.JobType)
		}
		if i > 0 && j.ID <= jobs[i-1].ID {
			t.Errorf("job ids not increasing: %d after %d", j.ID, jobs[i-1].ID)
		}
	}

	_, err = s.CreateSet(ctx, doc.ID, jobtype.All())
	if !errors.Is(err, ErrJobsExist) {
		t.Errorf("second CreateSet error = %v, want ErrJobsExist", err)
	}
}

func TestUpdate_BumpsVersionAndRefreshes(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)
	job, _ := s.Create(ctx, doc.ID, jobtype.Tile)

	now := time.Now()
	if err := s.Update(ctx, job, Fields{"status": models.JobRunning, "started_at": now, "external_task_id": "t-1"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if job.Status != models.JobRunning {
		t.Errorf("Status = %q, want running", job.Status)
	}
	if job.ExternalTaskID != "t-1" {
		t.Errorf("ExternalTaskID = %q, want t-1", job.ExternalTaskID)
	}
	if job.StartedAt == nil {
		t.Error("StartedAt not refreshed")
	}
	if job.Version != 2 {
		t.Errorf("Version = %d, want 2", job.Version)
	}

	if err := s.Update(ctx, job, Fields{"started_at": nil}); err != nil {
		t.Fatalf("Update nil: %v", err)
	}
	if job.StartedAt != nil {
		t.Error("StartedAt should be cleared")
	}
}

func TestUpdate_StaleVersionLoses(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)
	job, _ := s.Create(ctx, doc.ID, jobtype.OCR)

	workerView, _ := s.Get(ctx, job.ID)
	monitorView, _ := s.Get(ctx, job.ID)

	if err := s.Update(ctx, monitorView, Fields{"status": models.JobFailed}); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	err := s.Update(ctx, workerView, Fields{"status": models.JobCompleted})
	if !errors.Is(err, ErrStaleJob) {
		t.Fatalf("second writer error = %v, want ErrStaleJob", err)
	}
	if workerView.Status != models.JobQueued {
		t.Errorf("losing view mutated: status %q", workerView.Status)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != models.JobFailed {
		t.Errorf("stored status = %q, want failed", got.Status)
	}
}

func TestUpdate_DeletedRow(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)
	job, _ := s.Create(ctx, doc.ID, jobtype.OCR)
	if _, err := s.DeleteByDocument(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	err := s.Update(ctx, job, Fields{"progress": 10})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListByStatusOlderThan(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)
	jobs, _ := s.CreateSet(ctx, doc.ID, jobtype.All())

	old := time.Now().Add(-time.Hour)
	recent := time.Now()
	s.Update(ctx, &jobs[0], Fields{"status": models.JobRunning, "started_at": old})
	s.Update(ctx, &jobs[1], Fields{"status": models.JobRunning, "started_at": recent})

	cutoff := time.Now().Add(-20 * time.Minute)
	stuck, err := s.ListByStatusOlderThan(ctx, models.JobRunning, cutoff)
	if err != nil {
		t.Fatalf("ListByStatusOlderThan: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != jobs[0].ID {
		t.Errorf("stuck = %+v, want only job %d", stuck, jobs[0].ID)
	}

	queued, err := s.ListByStatusOlderThan(ctx, models.JobQueued, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListByStatusOlderThan queued: %v", err)
	}
	if len(queued) != 2 {
		t.Errorf("len(queued) = %d, want 2", len(queued))
	}
}

func TestListByDocument_AndDelete(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)
	other, _ := s.CreateDocument(ctx, "other.pdf", "")
	s.CreateSet(ctx, doc.ID, jobtype.All())
	s.CreateSet(ctx, other.ID, jobtype.All())

	jobs, err := s.ListByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(jobs) != 4 {
		t.Errorf("len(jobs) = %d, want 4", len(jobs))
	}

	n, err := s.DeleteByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	if n != 4 {
		t.Errorf("deleted = %d, want 4", n)
	}
	remaining, _ := s.ListByDocument(ctx, other.ID)
	if len(remaining) != 4 {
		t.Errorf("other document lost jobs: %d", len(remaining))
	}
}

func TestReplaceSet(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)
	first, _ := s.CreateSet(ctx, doc.ID, jobtype.All())
	s.Update(ctx, &first[0], Fields{"status": models.JobFailed})
	s.SetDocumentStatus(ctx, doc.ID, models.DocError)

	old, created, err := s.ReplaceSet(ctx, doc.ID, jobtype.All())
	if err != nil {
		t.Fatalf("ReplaceSet: %v", err)
	}
	if len(old) != 4 || len(created) != 4 {
		t.Fatalf("old=%d created=%d, want 4/4", len(old), len(created))
	}
	if created[0].ID <= first[3].ID {
		t.Errorf("new ids should exceed old ids: %d <= %d", created[0].ID, first[3].ID)
	}
	for _, j := range created {
		if j.Status != models.JobQueued {
			t.Errorf("job %d status = %q, want queued", j.ID, j.Status)
		}
	}
	got, _ := s.GetDocument(ctx, doc.ID)
	if got.Status != models.DocNew {
		t.Errorf("document status = %q, want new", got.Status)
	}

	if _, _, err := s.ReplaceSet(ctx, 999, jobtype.All()); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("ReplaceSet(999) error = %v, want ErrDocumentNotFound", err)
	}
}

func TestSetDocumentStatus_OnlyWritesOnChange(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)

	changed, err := s.SetDocumentStatus(ctx, doc.ID, models.DocReady)
	if err != nil || !changed {
		t.Fatalf("first SetDocumentStatus = %v, %v; want true, nil", changed, err)
	}
	changed, err = s.SetDocumentStatus(ctx, doc.ID, models.DocReady)
	if err != nil || changed {
		t.Errorf("repeat SetDocumentStatus = %v, %v; want false, nil", changed, err)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s, _ := testStore(t)
	if _, err := s.GetDocument(context.Background(), 42); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("error = %v, want ErrDocumentNotFound", err)
	}
}

func TestListDocuments(t *testing.T) {
	ctx := context.Background()
	s, doc := testStore(t)
	s.CreateDocument(ctx, "b.pdf", "")
	s.SetDocumentStatus(ctx, doc.ID, models.DocReady)

	all, err := s.ListDocuments(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Title != "b.pdf" {
		t.Errorf("ListDocuments = %+v", all)
	}
	ready, _ := s.ListDocuments(ctx, models.DocReady, 10)
	if len(ready) != 1 || ready[0].ID != doc.ID {
		t.Errorf("ready = %+v", ready)
	}
}
