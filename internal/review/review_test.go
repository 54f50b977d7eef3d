package review

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cs3org/sweettooth/internal/crud"
	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/cs3org/sweettooth/internal/storage"
	"github.com/cs3org/sweettooth/internal/workflow"
	"github.com/go-git/go-billy/v5/memfs"
)

type event struct {
	kind    string
	version uint
	actor   uint
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) SubmittedForReview(_ context.Context, v *model.ExtensionVersion, actor *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"submitted", v.ID, actor.ID})
}

func (r *recorder) Reviewed(_ context.Context, v *model.ExtensionVersion, actor *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"reviewed", v.ID, actor.ID})
}

type env struct {
	repo   crud.Repository
	wf     *workflow.Workflow
	svc    *Service
	events *recorder

	alice *model.User // creator
	bob   *model.User // reviewer
	carol *model.User // nobody
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo, err := crud.NewSqlite(filepath.Join(t.TempDir(), "sweettooth.db"), 0)
	if err != nil {
		t.Fatalf("error opening sqlite db: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	st := storage.New(memfs.New())
	rec := &recorder{}
	e := &env{
		repo:   repo,
		wf:     workflow.New(repo, st),
		svc:    New(repo, st, rec),
		events: rec,
	}
	e.alice = e.user(t, "alice", false)
	e.bob = e.user(t, "bob", true)
	e.carol = e.user(t, "carol", false)
	return e
}

func (e *env) user(t *testing.T, name string, reviewer bool) *model.User {
	t.Helper()
	u := &model.User{Username: name, Email: name + "@example.org", CanReview: reviewer}
	if err := e.repo.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func (e *env) upload(t *testing.T, user *model.User, uuid string) *model.ExtensionVersion {
	t.Helper()
	var b bytes.Buffer
	zw := zip.NewWriter(&b)
	w, err := zw.Create("metadata.json")
	if err != nil {
		t.Fatal(err)
	}
	manifest := `{"name": "Test", "url": "https://example.org", "uuid": "` + uuid + `"}`
	if _, err := w.Write([]byte(manifest)); err != nil {
		t.Fatal(err)
	}
	w, err = zw.Create("icon.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte{0x89, 'P', 'N', 'G'}); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	sub, err := e.wf.Submit(context.Background(), user, nil, b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return sub.Version
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	v := e.upload(t, e.alice, "u@example.org")
	if v.Version != 1 || v.Status != model.StatusNew {
		t.Fatalf("unexpected version %+v", v)
	}

	locked, err := e.svc.Lock(ctx, e.alice, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if locked.Status != model.StatusLocked {
		t.Fatalf("expected locked, got %s", locked.Status)
	}

	approved, err := e.svc.Approve(ctx, e.bob, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != model.StatusActive {
		t.Fatalf("expected active, got %s", approved.Status)
	}

	stored, err := e.repo.GetVersion(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.StatusActive {
		t.Fatalf("expected stored status active, got %s", stored.Status)
	}

	entries, err := e.repo.ListStatusLog(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 ||
		entries[0].UserID != e.alice.ID || entries[0].NewStatus != model.StatusLocked ||
		entries[1].UserID != e.bob.ID || entries[1].NewStatus != model.StatusActive {
		t.Fatalf("unexpected audit log %+v", entries)
	}

	want := []event{
		{"submitted", v.ID, e.alice.ID},
		{"reviewed", v.ID, e.bob.ID},
	}
	if len(e.events.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, e.events.events)
	}
	for i := range want {
		if e.events.events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, e.events.events)
		}
	}
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v := e.upload(t, e.alice, "u@example.org")

	// hidden to users who are not the creator nor a reviewer
	if _, err := e.svc.Lock(ctx, e.carol, v.ID); !errtypes.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.svc.Lock(ctx, e.bob, v.ID); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := e.svc.Lock(ctx, e.alice, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Lock(ctx, e.alice, v.ID); !errtypes.IsConflict(err) {
		t.Fatalf("expected conflict re-locking, got %v", err)
	}
	if _, err := e.svc.Lock(ctx, e.alice, 1000); !errtypes.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(e.events.events) != 1 {
		t.Fatalf("expected a single event, got %v", e.events.events)
	}
}

func TestSelfApprovalForbidden(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	dave := e.user(t, "dave", true)

	v := e.upload(t, dave, "u@example.org")
	if _, err := e.svc.Lock(ctx, dave, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Approve(ctx, dave, v.ID); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := e.svc.Reject(ctx, dave, v.ID); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := e.svc.Reject(ctx, e.alice, v.ID); !errtypes.IsNotFound(err) && !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected the rejection to be refused, got %v", err)
	}

	stored, err := e.repo.GetVersion(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.StatusLocked {
		t.Fatalf("expected locked, got %s", stored.Status)
	}
}

func TestDecideRequiresLocked(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v := e.upload(t, e.alice, "u@example.org")

	if _, err := e.svc.Approve(ctx, e.bob, v.ID); !errtypes.IsConflict(err) {
		t.Fatalf("expected conflict approving a new version, got %v", err)
	}
	if _, err := e.svc.Lock(ctx, e.alice, v.ID); err != nil {
		t.Fatal(err)
	}
	rejected, err := e.svc.Reject(ctx, e.bob, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != model.StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if _, err := e.svc.Approve(ctx, e.bob, v.ID); !errtypes.IsConflict(err) {
		t.Fatalf("expected conflict approving a rejected version, got %v", err)
	}
	if _, err := e.svc.Decide(ctx, e.bob, v.ID, ActionLock); !errtypes.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestVisibility(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v := e.upload(t, e.alice, "u@example.org")

	for _, u := range []*model.User{e.alice, e.bob} {
		if _, err := e.svc.GetVersion(ctx, u, v.ID); err != nil {
			t.Fatalf("%s cannot see the new version: %v", u.Username, err)
		}
	}
	for _, u := range []*model.User{e.carol, nil} {
		if _, err := e.svc.GetVersion(ctx, u, v.ID); !errtypes.IsNotFound(err) {
			t.Fatalf("expected the version to be hidden, got %v", err)
		}
	}

	if _, err := e.svc.Lock(ctx, e.alice, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Approve(ctx, e.bob, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.GetVersion(ctx, nil, v.ID); err != nil {
		t.Fatalf("active version not public: %v", err)
	}
}

func TestComment(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v := e.upload(t, e.alice, "u@example.org")

	if _, err := e.svc.Comment(ctx, e.bob, v.ID, "please fix the indentation"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Comment(ctx, e.alice, v.ID, "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Comment(ctx, e.alice, v.ID, "   "); !errtypes.IsValidationFailed(err) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if _, err := e.svc.Comment(ctx, e.carol, v.ID, "hello"); !errtypes.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	d, err := e.svc.Details(ctx, e.bob, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Reviews) != 2 || d.Reviews[0].Reviewer.Username != "bob" {
		t.Fatalf("unexpected reviews %+v", d.Reviews)
	}
	if len(d.Previous) != 2 || !d.CanReview || !d.CanApprove {
		t.Fatalf("unexpected details %+v", d)
	}

	d, err = e.svc.Details(ctx, e.alice, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.CanReview || d.CanApprove {
		t.Fatalf("creator should review but not approve: %+v", d)
	}
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v1 := e.upload(t, e.alice, "one@example.org")
	e.upload(t, e.alice, "two@example.org")

	if _, err := e.svc.Lock(ctx, e.alice, v1.ID); err != nil {
		t.Fatal(err)
	}
	queue, err := e.svc.Queue(ctx, e.bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].ID != v1.ID {
		t.Fatalf("unexpected queue %+v", queue)
	}
	if _, err := e.svc.Queue(ctx, e.alice); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v := e.upload(t, e.alice, "u@example.org")

	files, err := e.svc.Files(ctx, e.bob, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range files {
		names[f.Name] = f.Image
	}
	if img, ok := names["icon.png"]; !ok || !img {
		t.Fatalf("icon not listed as image: %+v", files)
	}
	if _, ok := names["metadata.json"]; !ok {
		t.Fatalf("manifest not listed: %+v", files)
	}
}

func TestErrorReports(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v := e.upload(t, e.alice, "u@example.org")
	extID := v.ExtensionID

	if _, err := e.svc.ReportError(ctx, e.carol, &extID, "crashes on startup"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.ReportError(ctx, e.carol, nil, "site is slow"); err != nil {
		t.Fatal(err)
	}
	missing := uint(1000)
	if _, err := e.svc.ReportError(ctx, e.carol, &missing, "?"); !errtypes.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.svc.ReportError(ctx, nil, &extID, "anonymous"); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	reports, err := e.svc.ErrorReports(ctx, e.alice, extID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Comment != "crashes on startup" {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if _, err := e.svc.ErrorReports(ctx, e.carol, extID); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}
