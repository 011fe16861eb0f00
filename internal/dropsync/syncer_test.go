package dropsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncOnceUploadsNewAndChangedFiles(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{}
	syncer := newTestSyncer(t, client, dir)

	writeDropFile(t, dir, "a.json", `{"n":1}`)
	writeDropFile(t, dir, "notes.txt", "ignored")
	writeDropFile(t, dir, ".hidden.json", `{"n":0}`)

	report, err := syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json"}, report.Uploaded)

	report, err = syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Uploaded)
	assert.Equal(t, 1, report.Skipped)

	writeDropFile(t, dir, "a.json", `{"n":2}`)
	writeDropFile(t, dir, "b.json", `{"n":3}`)
	report, err = syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Uploaded, 2)

	got := client.uploads()
	require.Len(t, got, 3)
	assert.Equal(t, `{"n":2}`, got[1])
}

func TestSyncOnceRemembersStateAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{}
	writeDropFile(t, dir, "a.json", `{"n":1}`)

	first := newTestSyncer(t, client, dir)
	_, err := first.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ".cardbuilder-drop-state"))

	second := newTestSyncer(t, client, dir)
	report, err := second.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Uploaded)
	assert.Len(t, client.uploads(), 1)
}

func TestSyncOnceSkipsRejectedUntilEdited(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{reject: map[string]bool{`broken`: true}}
	syncer := newTestSyncer(t, client, dir)
	writeDropFile(t, dir, "bad.json", `broken`)

	report, err := syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Rejected, 1)

	report, err = syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Rejected)
	assert.Equal(t, 1, report.Skipped)

	writeDropFile(t, dir, "bad.json", `{"fixed":true}`)
	report, err = syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Uploaded, 1)
}

func TestSyncOnceKeepsProgressWhenUploadFails(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{failOn: `{"n":2}`}
	syncer := newTestSyncer(t, client, dir)
	writeDropFile(t, dir, "a.json", `{"n":1}`)
	writeDropFile(t, dir, "b.json", `{"n":2}`)

	report, err := syncer.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"a.json"}, report.Uploaded)

	client.setFailOn("")
	report, err = syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b.json"}, report.Uploaded)
}

func TestNewSyncerValidatesOptions(t *testing.T) {
	_, err := NewSyncer(nil, SyncerOptions{LocalRoot: t.TempDir()})
	assert.Error(t, err, "missing client")
	_, err = NewSyncer(&fakeClient{}, SyncerOptions{})
	assert.Error(t, err, "missing root")
	_, err = NewSyncer(&fakeClient{}, SyncerOptions{LocalRoot: t.TempDir(), Pattern: "["})
	assert.Error(t, err, "bad pattern")
}

func TestWatcherUploadsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{}
	syncer := newTestSyncer(t, client, dir)
	watcher, err := NewWatcher(syncer, 20*time.Millisecond)
	require.NoError(t, err)
	passes := make(chan Report, 16)
	watcher.OnPass = func(report Report, _ error) {
		select {
		case passes <- report:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-passes:
	case <-time.After(5 * time.Second):
		t.Fatal("initial pass did not run")
	}

	writeDropFile(t, dir, "dropped.json", `{"n":1}`)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case report := <-passes:
			if len(report.Uploaded) == 1 && report.Uploaded[0] == "dropped.json" {
				return
			}
		case <-deadline:
			t.Fatalf("dropped file was not uploaded, uploads=%v", client.uploads())
		}
	}
}

func TestWriteFileAtomicReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	require.NoError(t, writeFileAtomic(path, []byte("new"), 0o644))

	updated, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(updated))
}

func newTestSyncer(t *testing.T, client RemoteClient, dir string) *Syncer {
	t.Helper()
	syncer, err := NewSyncer(client, SyncerOptions{LocalRoot: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return syncer
}

func writeDropFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

type fakeClient struct {
	mu      sync.Mutex
	sent    []string
	reject  map[string]bool
	failOn  string
	nextTab int
}

func (c *fakeClient) Import(_ context.Context, payload []byte, _ int) (ImportResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body := string(payload)
	if c.reject[body] {
		return ImportResult{}, &HTTPError{StatusCode: 422, Code: "malformed_import", Message: "bad payload"}
	}
	if c.failOn != "" && body == c.failOn {
		return ImportResult{}, errors.New("connection refused")
	}
	c.sent = append(c.sent, body)
	c.nextTab++
	return ImportResult{Tabs: []ImportedTab{{ID: c.nextTab}}, Cards: 1}, nil
}

func (c *fakeClient) uploads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeClient) setFailOn(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOn = body
}
