package workflow

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cs3org/sweettooth/internal/archive"
	"github.com/cs3org/sweettooth/internal/crud"
	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/cs3org/sweettooth/internal/storage"
	"github.com/go-git/go-billy/v5/memfs"
)

type env struct {
	repo    crud.Repository
	storage *storage.Storage
	wf      *Workflow
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo, err := crud.NewSqlite(filepath.Join(t.TempDir(), "sweettooth.db"), 0)
	if err != nil {
		t.Fatalf("error opening sqlite db: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	st := storage.New(memfs.New())
	return &env{repo: repo, storage: st, wf: New(repo, st)}
}

func (e *env) user(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{Username: name, Email: name + "@example.org"}
	if err := e.repo.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var b bytes.Buffer
	zw := zip.NewWriter(&b)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

func weatherZip(t *testing.T) []byte {
	return makeZip(t, map[string]string{
		"metadata.json": `{
			"name": "Weather",
			"description": "Shows the weather",
			"url": "https://example.org/weather",
			"uuid": "weather@example.org",
			"shell-version": ["3.2"],
			"settings-schema": "org.example.weather"
		}`,
		"extension.js": "function init() {}",
	})
}

func TestSubmitNewExtension(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")

	sub, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}
	if !sub.Created {
		t.Fatal("expected the extension to be created")
	}

	ext, ver := sub.Extension, sub.Version
	if ext.UUID != "weather@example.org" || ext.Name != "Weather" || ext.Slug != "weather" || ext.CreatorID != alice.ID {
		t.Fatalf("unexpected extension %+v", ext)
	}
	if ver.Version != 1 || ver.Status != model.StatusNew {
		t.Fatalf("unexpected version %+v", ver)
	}
	if ver.Source != "weather@example.org/1/weather.shell-extension.zip" {
		t.Fatalf("unexpected source %q", ver.Source)
	}

	extra, err := ver.Extra()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := extra["name"]; ok {
		t.Fatal("reserved field stored in extra fields")
	}
	if extra["settings-schema"] != "org.example.weather" {
		t.Fatalf("unexpected extra fields %v", extra)
	}

	stored, err := e.storage.Get(ver.Source)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := archive.ReadManifest(stored)
	if err != nil {
		t.Fatal(err)
	}
	var md map[string]any
	if err := json.Unmarshal(manifest, &md); err != nil {
		t.Fatal(err)
	}
	if md["_generated"] != archive.GeneratedMarker || md["uuid"] != "weather@example.org" || md["settings-schema"] != "org.example.weather" {
		t.Fatalf("unexpected stored manifest %s", manifest)
	}
}

func TestSubmitSequentialVersions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")

	first, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}
	for i := 2; i <= 4; i++ {
		sub, err := e.wf.Submit(ctx, alice, &first.Extension.ID, weatherZip(t))
		if err != nil {
			t.Fatal(err)
		}
		if sub.Version.Version != i || sub.Created {
			t.Fatalf("expected version %d, got %d", i, sub.Version.Version)
		}
	}
}

func TestSubmitConcurrentVersions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")
	first, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}

	const n = 8
	data := weatherZip(t)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.wf.Submit(ctx, alice, &first.Extension.ID, data)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	vers, err := e.repo.ListVersions(ctx, first.Extension.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(vers) != n+1 {
		t.Fatalf("expected %d versions, got %d", n+1, len(vers))
	}
	for i, v := range vers {
		if v.Version != i+1 {
			t.Fatalf("gap in version numbers: position %d has version %d", i, v.Version)
		}
	}
}

func TestSubmitSameUUIDSameOwner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")

	first, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.Extension.ID != first.Extension.ID || second.Version.Version != 2 {
		t.Fatalf("expected a new version of the same extension, got %+v", second.Version)
	}
}

func TestSubmitSameUUIDOtherOwner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")

	if _, err := e.wf.Submit(ctx, alice, nil, weatherZip(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.wf.Submit(ctx, bob, nil, weatherZip(t)); !errtypes.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSubmitCannotReachArchiveOfOtherUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")
	mallory := e.user(t, "mallory")

	sub, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}
	original, err := e.storage.Get(sub.Version.Source)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"weather@example.org/.", "./weather@example.org", "weather@example.org/../weather@example.org", ".."} {
		manifest, _ := json.Marshal(map[string]any{
			"name": "Weather",
			"url":  "https://evil.example",
			"uuid": id,
		})
		data := makeZip(t, map[string]string{"metadata.json": string(manifest)})
		_, err := e.wf.Submit(ctx, mallory, nil, data)
		vf, ok := err.(*errtypes.ValidationFailed)
		if !ok || len(vf.Fields) != 1 || vf.Fields[0].Field != "uuid" {
			t.Fatalf("uuid %q: expected validation failure on uuid, got %v", id, err)
		}
	}

	stored, err := e.storage.Get(sub.Version.Source)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, original) {
		t.Fatal("archive of alice was modified")
	}
}

func TestSubmitKeepsExistingArchive(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")

	p := storage.SourcePath("weather@example.org", 1, "weather")
	if err := e.storage.Put(p, []byte("stored")); err != nil {
		t.Fatal(err)
	}

	if _, err := e.wf.Submit(ctx, alice, nil, weatherZip(t)); !errtypes.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	data, err := e.storage.Get(p)
	if err != nil || string(data) != "stored" {
		t.Fatalf("existing archive was touched: %q (%v)", data, err)
	}
	if _, err := e.repo.GetExtensionByUUID(ctx, "weather@example.org"); !errtypes.IsNotFound(err) {
		t.Fatalf("the extension was stored: %v", err)
	}
}

func TestSubmitToExtensionOfOtherUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")

	sub, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.wf.Submit(ctx, bob, &sub.Extension.ID, weatherZip(t)); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := e.wf.Submit(ctx, nil, nil, weatherZip(t)); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied for anonymous user, got %v", err)
	}
}

func TestSubmitCorruptArchive(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")

	if _, err := e.wf.Submit(ctx, alice, nil, []byte("definitely not a zip")); !errtypes.IsInvalidArchive(err) {
		t.Fatalf("expected invalid archive, got %v", err)
	}
	if _, err := e.repo.GetExtension(ctx, 1); !errtypes.IsNotFound(err) {
		t.Fatalf("an extension was created: %v", err)
	}
}

func TestSubmitInvalidMetadata(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")

	data := makeZip(t, map[string]string{"metadata.json": `{"name": `})
	if _, err := e.wf.Submit(ctx, alice, nil, data); !errtypes.IsInvalidMetadata(err) {
		t.Fatalf("expected invalid metadata, got %v", err)
	}
}

func TestSubmitValidationCollectsAllErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")

	data := makeZip(t, map[string]string{
		"metadata.json": `{"name": "", "url": "ftp://example.org", "uuid": ""}`,
	})
	_, err := e.wf.Submit(ctx, alice, nil, data)
	vf, ok := err.(*errtypes.ValidationFailed)
	if !ok {
		t.Fatalf("expected validation failure, got %v", err)
	}
	fields := map[string]bool{}
	for _, f := range vf.Fields {
		fields[f.Field] = true
	}
	for _, f := range []string{"name", "url", "uuid"} {
		if !fields[f] {
			t.Fatalf("missing error on field %s: %v", f, vf)
		}
	}
}

func TestSubmitWithoutManifest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")

	sub, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}

	// a new extension without manifest has no name nor url
	bare := makeZip(t, map[string]string{"extension.js": "function init() {}"})
	if _, err := e.wf.Submit(ctx, alice, nil, bare); !errtypes.IsValidationFailed(err) {
		t.Fatalf("expected validation failure, got %v", err)
	}

	next, err := e.wf.Submit(ctx, alice, &sub.Extension.ID, bare)
	if err != nil {
		t.Fatal(err)
	}
	if next.Version.Version != 2 {
		t.Fatalf("expected version 2, got %d", next.Version.Version)
	}

	stored, err := e.storage.Get(next.Version.Source)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := archive.ReadManifest(stored)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(manifest), `"uuid": "weather@example.org"`) {
		t.Fatalf("manifest not generated from the extension: %s", manifest)
	}
}

func TestSubmitDefaultUUID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.wf.newUUID = func() string { return "generated-uuid" }
	alice := e.user(t, "alice")

	data := makeZip(t, map[string]string{
		"metadata.json": `{"name": "No UUID", "url": "http://example.org"}`,
	})
	sub, err := e.wf.Submit(ctx, alice, nil, data)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Extension.UUID != "generated-uuid" || sub.Extension.Slug != "no-uuid" {
		t.Fatalf("unexpected extension %+v", sub.Extension)
	}
}

func TestDefaultUUIDIsUnique(t *testing.T) {
	a, b := defaultUUID(), defaultUUID()
	if a == "" || a == b {
		t.Fatalf("unexpected uuids %q %q", a, b)
	}
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")

	sub, err := e.wf.Submit(ctx, alice, nil, weatherZip(t))
	if err != nil {
		t.Fatal(err)
	}
	id := sub.Extension.ID

	ext, err := e.wf.Edit(ctx, alice, id, "extension_name", "Better Weather")
	if err != nil {
		t.Fatal(err)
	}
	if ext.Name != "Better Weather" || ext.Slug != "weather" {
		t.Fatalf("unexpected extension %+v", ext)
	}

	if _, err := e.wf.Edit(ctx, alice, id, "url", "not a url"); !errtypes.IsValidationFailed(err) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if _, err := e.wf.Edit(ctx, alice, id, "uuid", "other"); !errtypes.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if _, err := e.wf.Edit(ctx, bob, id, "name", "Stolen"); !errtypes.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	stored, err := e.repo.GetExtension(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "Better Weather" || stored.URL != "https://example.org/weather" {
		t.Fatalf("unexpected stored extension %+v", stored)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		ext    model.Extension
		fields []string
	}{
		{
			name: "valid",
			ext:  model.Extension{Name: "A", URL: "https://example.org", UUID: "a@example.org"},
		},
		{
			name:   "long name",
			ext:    model.Extension{Name: strings.Repeat("a", 201), URL: "https://example.org", UUID: "a"},
			fields: []string{"name"},
		},
		{
			name:   "relative url",
			ext:    model.Extension{Name: "A", URL: "/weather", UUID: "a"},
			fields: []string{"url"},
		},
		{
			name:   "control characters",
			ext:    model.Extension{Name: "x\r\nBcc: a@example.org", Description: "a\x00b", URL: "https://example.org/\n", UUID: "a\tb"},
			fields: []string{"name", "description", "url", "uuid"},
		},
		{
			name: "multiline description",
			ext:  model.Extension{Name: "A", Description: "first line\r\nsecond\tline", URL: "https://example.org", UUID: "a@example.org"},
		},
		{
			name:   "uuid with trailing dot segment",
			ext:    model.Extension{Name: "A", URL: "https://example.org", UUID: "a@example.org/."},
			fields: []string{"uuid"},
		},
		{
			name:   "uuid with leading dot segment",
			ext:    model.Extension{Name: "A", URL: "https://example.org", UUID: "./a@example.org"},
			fields: []string{"uuid"},
		},
		{
			name:   "uuid going up",
			ext:    model.Extension{Name: "A", URL: "https://example.org", UUID: ".."},
			fields: []string{"uuid"},
		},
		{
			name:   "uuid with backslash",
			ext:    model.Extension{Name: "A", URL: "https://example.org", UUID: `a\b`},
			fields: []string{"uuid"},
		},
		{
			name:   "everything wrong",
			ext:    model.Extension{},
			fields: []string{"name", "url", "uuid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.ext)
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			vf, ok := err.(*errtypes.ValidationFailed)
			if !ok {
				t.Fatalf("expected validation failure, got %v", err)
			}
			if len(vf.Fields) != len(tt.fields) {
				t.Fatalf("expected errors on %v, got %v", tt.fields, vf.Fields)
			}
			for i, f := range tt.fields {
				if vf.Fields[i].Field != f {
					t.Fatalf("expected error on %s, got %s", f, vf.Fields[i].Field)
				}
			}
		})
	}
}
