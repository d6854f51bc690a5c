package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/docyard/internal/aggregate"
	"github.com/zulandar/docyard/internal/config"
	"github.com/zulandar/docyard/internal/db"
	"github.com/zulandar/docyard/internal/jobtype"
	"github.com/zulandar/docyard/internal/models"
	"github.com/zulandar/docyard/internal/queue"
	"github.com/zulandar/docyard/internal/store"
	"github.com/zulandar/docyard/internal/worker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

type submission struct {
	handler string
	args    queue.Args
	delay   time.Duration
}

// recordingQueue records requested delays and forwards to a real queue with
// no delay, so tests can claim immediately. Handlers in fail are rejected.
type recordingQueue struct {
	mu        sync.Mutex
	inner     *queue.Queue
	fail      map[string]bool
	submitted []submission
	cancelled []string
}

func (q *recordingQueue) Submit(ctx context.Context, handler string, args queue.Args, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail[handler] {
		return "", errors.New("broker unreachable")
	}
	q.submitted = append(q.submitted, submission{handler, args, delay})
	return q.inner.Submit(ctx, handler, args, 0)
}

func (q *recordingQueue) Cancel(ctx context.Context, taskID string) error {
	q.cancelled = append(q.cancelled, taskID)
	return q.inner.Cancel(ctx, taskID)
}

func (q *recordingQueue) delays(documentID uint) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, s := range q.submitted {
		if s.args.DocumentID == documentID {
			out[s.handler] = s.delay
		}
	}
	return out
}

var testDispatch = config.DispatchConfig{
	Mode:             config.ModeDelay,
	ConvertBaseDelay: 30 * time.Second,
	PDFBaseDelay:     5 * time.Second,
	Stagger:          2 * time.Second,
	BulkStagger:      3 * time.Second,
}

type fixture struct {
	gdb   *gorm.DB
	store *store.Store
	queue *recordingQueue
	agg   *aggregate.Aggregator
	disp  *Dispatcher
}

func newFixture(t *testing.T, cfg config.DispatchConfig) *fixture {
	t.Helper()
	gdb := testDB(t)
	s := store.New(gdb)
	q := &recordingQueue{inner: queue.New(gdb, time.Minute), fail: map[string]bool{}}
	agg := aggregate.New(s, nil, nil)
	d, err := New(Opts{Store: s, Queue: q, Observer: agg, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	agg.AddListener(d)
	return &fixture{gdb: gdb, store: s, queue: q, agg: agg, disp: d}
}

func (f *fixture) document(t *testing.T, title string) *models.Document {
	t.Helper()
	doc, err := f.store.CreateDocument(context.Background(), title, "")
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func byType(jobs []models.ProcessingJob) map[jobtype.Type]models.ProcessingJob {
	m := make(map[jobtype.Type]models.ProcessingJob)
	for _, j := range jobs {
		m[jobtype.Type(j.JobType)] = j
	}
	return m
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	_, err := New(Opts{Store: &store.Store{}, Queue: &recordingQueue{}, Config: config.DispatchConfig{Mode: "dag"}})
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestPlan_NonPDFDelays(t *testing.T) {
	f := newFixture(t, testDispatch)
	steps := f.disp.Plan(models.Document{Title: "report.docx"})
	if len(steps) != 4 {
		t.Fatalf("len = %d", len(steps))
	}
	if steps[0].Type != jobtype.Convert || steps[0].Delay != 0 || steps[0].Skip {
		t.Errorf("convert step = %+v", steps[0])
	}
	want := []time.Duration{30 * time.Second, 32 * time.Second, 34 * time.Second}
	for i, step := range steps[1:] {
		if step.Delay != want[i] {
			t.Errorf("%s delay = %s, want %s", step.Type, step.Delay, want[i])
		}
		if step.Delay <= steps[0].Delay {
			t.Errorf("%s delay not after convert", step.Type)
		}
	}
}

func TestPlan_PDFSkipsConvert(t *testing.T) {
	f := newFixture(t, testDispatch)
	steps := f.disp.Plan(models.Document{Title: "Scan.PDF"})
	if !steps[0].Skip {
		t.Error("convert should be skipped for a pdf")
	}
	if steps[1].Delay != 5*time.Second || steps[3].Delay != 9*time.Second {
		t.Errorf("delays = %s, %s", steps[1].Delay, steps[3].Delay)
	}
}

func TestPlan_GraphHoldsDependents(t *testing.T) {
	cfg := testDispatch
	cfg.Mode = config.ModeGraph
	f := newFixture(t, cfg)
	for _, step := range f.disp.Plan(models.Document{Title: "a.docx"})[1:] {
		if !step.Hold {
			t.Errorf("%s not held", step.Type)
		}
	}
}

func TestEnqueueProcessing_Docx(t *testing.T) {
	f := newFixture(t, testDispatch)
	doc := f.document(t, "report.docx")

	jobs, err := f.disp.EnqueueProcessing(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("EnqueueProcessing: %v", err)
	}
	if len(jobs) != 4 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != models.JobQueued || j.ExternalTaskID == "" {
			t.Errorf("%s: status=%s task=%q", j.JobType, j.Status, j.ExternalTaskID)
		}
	}
	delays := f.queue.delays(doc.ID)
	if delays["convert"] != 0 {
		t.Errorf("convert delay = %s", delays["convert"])
	}
	for _, h := range []string{"tile", "thumbnail", "ocr"} {
		if delays[h] < 30*time.Second {
			t.Errorf("%s delay = %s, want >= 30s", h, delays[h])
		}
	}
}

func TestEnqueueProcessing_PDF(t *testing.T) {
	f := newFixture(t, testDispatch)
	doc := f.document(t, "scan.pdf")

	jobs, err := f.disp.EnqueueProcessing(context.Background(), doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	conv := byType(jobs)[jobtype.Convert]
	if conv.Status != models.JobCompleted || conv.ErrorMessage != SkippedPDF || conv.CompletedAt == nil {
		t.Errorf("convert = %+v", conv)
	}
	if len(f.queue.submitted) != 3 {
		t.Errorf("submitted = %d, want 3", len(f.queue.submitted))
	}
	if d := f.queue.delays(doc.ID)["tile"]; d != 5*time.Second {
		t.Errorf("tile delay = %s", d)
	}
}

func TestEnqueueProcessing_DispatchFailureFailsJob(t *testing.T) {
	f := newFixture(t, testDispatch)
	f.queue.fail["ocr"] = true
	doc := f.document(t, "report.docx")

	jobs, err := f.disp.EnqueueProcessing(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("dispatch failure must not fail the call: %v", err)
	}
	m := byType(jobs)
	ocr := m[jobtype.OCR]
	if ocr.Status != models.JobFailed || !strings.HasPrefix(ocr.ErrorMessage, "Failed to dispatch task: ") {
		t.Errorf("ocr = %s %q", ocr.Status, ocr.ErrorMessage)
	}
	if ocr.CompletedAt == nil {
		t.Error("failed job needs completed_at")
	}
	if m[jobtype.Tile].Status != models.JobQueued {
		t.Error("sibling jobs must still be dispatched")
	}
	got, _ := f.store.GetDocument(context.Background(), doc.ID)
	if got.Status != models.DocError {
		t.Errorf("document status = %q, want error", got.Status)
	}
}

func TestEnqueueProcessing_Twice(t *testing.T) {
	f := newFixture(t, testDispatch)
	doc := f.document(t, "a.docx")
	ctx := context.Background()
	if _, err := f.disp.EnqueueProcessing(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.disp.EnqueueProcessing(ctx, doc.ID); !errors.Is(err, store.ErrJobsExist) {
		t.Errorf("err = %v, want ErrJobsExist", err)
	}
}

func TestEnqueueMany_Staggers(t *testing.T) {
	f := newFixture(t, testDispatch)
	a := f.document(t, "a.docx")
	b := f.document(t, "b.docx")
	c := f.document(t, "c.docx")

	n, err := f.disp.EnqueueMany(context.Background(), []uint{a.ID, b.ID, 4242, c.ID})
	if n != 3 {
		t.Errorf("enqueued = %d, want 3", n)
	}
	if !errors.Is(err, store.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
	if d := f.queue.delays(b.ID)["convert"]; d != 3*time.Second {
		t.Errorf("second document convert delay = %s, want 3s", d)
	}
	if d := f.queue.delays(c.ID)["tile"]; d != 9*time.Second+30*time.Second {
		t.Errorf("fourth slot tile delay = %s", d)
	}
}

func TestGraphMode_ReleasesAfterConvert(t *testing.T) {
	cfg := testDispatch
	cfg.Mode = config.ModeGraph
	f := newFixture(t, cfg)
	doc := f.document(t, "report.docx")
	ctx := context.Background()

	jobs, err := f.disp.EnqueueProcessing(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.queue.submitted) != 1 || f.queue.submitted[0].handler != "convert" {
		t.Fatalf("submitted = %+v, want only convert", f.queue.submitted)
	}
	for _, j := range jobs[1:] {
		if !Held(j) {
			t.Errorf("%s not held", j.JobType)
		}
	}

	conv := byType(jobs)[jobtype.Convert]
	if err := f.store.Update(ctx, &conv, store.Fields{"status": models.JobCompleted, "completed_at": time.Now()}); err != nil {
		t.Fatal(err)
	}
	f.agg.Observe(ctx, conv)

	if len(f.queue.submitted) != 4 {
		t.Fatalf("submitted = %d after convert, want 4", len(f.queue.submitted))
	}
	jobs, _ = f.store.ListByDocument(ctx, doc.ID)
	for _, j := range jobs {
		if j.ExternalTaskID == "" {
			t.Errorf("%s has no task after release", j.JobType)
		}
	}
}

func TestGraphMode_FailedReleaseKeepsStagger(t *testing.T) {
	cfg := testDispatch
	cfg.Mode = config.ModeGraph
	f := newFixture(t, cfg)
	f.queue.fail["tile"] = true
	doc := f.document(t, "report.docx")
	ctx := context.Background()

	jobs, err := f.disp.EnqueueProcessing(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	conv := byType(jobs)[jobtype.Convert]
	if err := f.store.Update(ctx, &conv, store.Fields{"status": models.JobCompleted, "completed_at": time.Now()}); err != nil {
		t.Fatal(err)
	}
	f.agg.Observe(ctx, conv)

	delays := f.queue.delays(doc.ID)
	if _, ok := delays["tile"]; ok {
		t.Fatal("tile should have been rejected by the queue")
	}
	if delays["thumbnail"] != 0 || delays["ocr"] != 2*time.Second {
		t.Errorf("delays = %v, want thumbnail 0s and ocr 2s", delays)
	}
	jobs, _ = f.store.ListByDocument(ctx, doc.ID)
	m := byType(jobs)
	if tile := m[jobtype.Tile]; tile.Status != models.JobFailed || !strings.HasPrefix(tile.ErrorMessage, "Failed to dispatch task: ") {
		t.Errorf("tile = %s %q", tile.Status, tile.ErrorMessage)
	}
	if m[jobtype.OCR].ExternalTaskID == "" {
		t.Error("ocr was not released after the tile failure")
	}
}

func TestGraphMode_PDFReleasesImmediately(t *testing.T) {
	cfg := testDispatch
	cfg.Mode = config.ModeGraph
	gdb := testDB(t)
	s := store.New(gdb)
	q := &recordingQueue{inner: queue.New(gdb, time.Minute), fail: map[string]bool{}}
	// No observer: the dispatcher must release on its own.
	d, err := New(Opts{Store: s, Queue: q, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := s.CreateDocument(context.Background(), "scan.pdf", "")
	if _, err := d.EnqueueProcessing(context.Background(), doc.ID); err != nil {
		t.Fatal(err)
	}
	if len(q.submitted) != 3 {
		t.Errorf("submitted = %d, want 3", len(q.submitted))
	}
}

func TestGraphMode_BlocksOnConvertFailure(t *testing.T) {
	cfg := testDispatch
	cfg.Mode = config.ModeGraph
	f := newFixture(t, cfg)
	doc := f.document(t, "report.docx")
	ctx := context.Background()

	jobs, _ := f.disp.EnqueueProcessing(ctx, doc.ID)
	conv := byType(jobs)[jobtype.Convert]
	if err := f.store.Update(ctx, &conv, store.Fields{"status": models.JobFailed, "completed_at": time.Now()}); err != nil {
		t.Fatal(err)
	}
	f.agg.Observe(ctx, conv)

	jobs, _ = f.store.ListByDocument(ctx, doc.ID)
	for _, j := range jobs[1:] {
		if j.Status != models.JobFailed || j.ErrorMessage != "Blocked: dependency convert failed" {
			t.Errorf("%s = %s %q", j.JobType, j.Status, j.ErrorMessage)
		}
	}
	if len(f.queue.submitted) != 1 {
		t.Errorf("dependents were submitted: %d", len(f.queue.submitted))
	}
}

func TestReprocess(t *testing.T) {
	f := newFixture(t, testDispatch)
	doc := f.document(t, "report.docx")
	ctx := context.Background()

	jobs, _ := f.disp.EnqueueProcessing(ctx, doc.ID)
	tile := byType(jobs)[jobtype.Tile]
	if err := f.store.Update(ctx, &tile, store.Fields{"status": models.JobFailed, "completed_at": time.Now()}); err != nil {
		t.Fatal(err)
	}
	f.agg.Observe(ctx, tile)

	fresh, err := f.disp.Reprocess(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if len(fresh) != 4 {
		t.Fatalf("jobs = %d", len(fresh))
	}
	for _, j := range fresh {
		if j.Status != models.JobQueued || j.ErrorMessage != "" {
			t.Errorf("%s status = %s %q", j.JobType, j.Status, j.ErrorMessage)
		}
	}
	// Three old tasks were still pending; the failed tile job is skipped.
	if len(f.queue.cancelled) != 3 {
		t.Errorf("cancelled = %d, want 3", len(f.queue.cancelled))
	}
	got, _ := f.store.GetDocument(ctx, doc.ID)
	if got.Status != models.DocNew {
		t.Errorf("document status = %q, want new", got.Status)
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, testDispatch)
	doc := f.document(t, "scan.pdf")
	ctx := context.Background()
	if _, err := f.disp.EnqueueProcessing(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	views, err := f.disp.ListJobs(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 4 || views[0].JobType != "convert" || views[0].Progress != 100 {
		t.Errorf("views = %+v", views)
	}
}

// A .docx document runs through the whole pipeline and ends up ready.
func TestScenario_DocxReachesReady(t *testing.T) {
	f := newFixture(t, testDispatch)
	doc := f.document(t, "report.docx")
	ctx := context.Background()

	if _, err := f.disp.EnqueueProcessing(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	delays := f.queue.delays(doc.ID)
	if delays["convert"] != 0 {
		t.Fatalf("convert delay = %s", delays["convert"])
	}

	var order []string
	ok := worker.HandlerFunc(func(_ context.Context, task worker.Task) worker.Outcome {
		order = append(order, task.Job.JobType)
		task.Progress(50)
		return worker.Done("")
	})
	handlers := make(map[jobtype.Type]worker.Handler)
	for _, jt := range jobtype.All() {
		handlers[jt] = ok
	}
	reg, err := worker.NewRegistry(handlers)
	if err != nil {
		t.Fatal(err)
	}
	pool, err := worker.New(worker.Opts{
		Store:       f.store,
		Queue:       f.queue.inner,
		Registry:    reg,
		Resubmitter: f.disp,
		Observer:    f.agg,
		Config:      config.WorkerConfig{ID: "w1", HeartbeatInterval: time.Hour},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, jt := range []string{"convert", "tile", "thumbnail", "ocr"} {
		task, err := f.queue.inner.Claim(ctx, pool.ID(), []string{jt})
		if err != nil {
			t.Fatalf("claim %s: %v", jt, err)
		}
		pool.Execute(ctx, task)
		if jt != "ocr" {
			got, _ := f.store.GetDocument(ctx, doc.ID)
			if got.Status != models.DocNew {
				t.Fatalf("document %q after %s, want new", got.Status, jt)
			}
		}
	}

	got, _ := f.store.GetDocument(ctx, doc.ID)
	if got.Status != models.DocReady {
		t.Errorf("document status = %q, want ready", got.Status)
	}
	if strings.Join(order, ",") != "convert,tile,thumbnail,ocr" {
		t.Errorf("order = %v", order)
	}
}
