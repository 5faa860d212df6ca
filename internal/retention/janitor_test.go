package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sproutly/sproutly/server/internal/storage"
)

type fakeObjects struct {
	objects   map[string]time.Time
	failKeys  map[string]bool
	listErr   error
	deletions []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string]time.Time), failKeys: make(map[string]bool)}
}

func (f *fakeObjects) Put(_ context.Context, key string, _ []byte, _ string) error {
	f.objects[key] = time.Now()
	return nil
}

func (f *fakeObjects) SignedURL(key string, _ time.Duration) (string, error) {
	return "http://example/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	if f.failKeys[key] {
		return errors.New("backend unavailable")
	}
	delete(f.objects, key)
	f.deletions = append(f.deletions, key)
	return nil
}

func (f *fakeObjects) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []storage.ObjectInfo
	for key, mod := range f.objects {
		out = append(out, storage.ObjectInfo{Key: key, Size: 1, Modified: mod})
	}
	return out, nil
}

func TestIsTempKey(t *testing.T) {
	assert.True(t, isTempKey("u1/temp-abc/identification-1.jpg"))
	assert.True(t, isTempKey("u1/temp-abc/identification-1-thumb.jpg"))
	assert.False(t, isTempKey("u1/p1/photo.jpg"))
	assert.False(t, isTempKey("temp-abc"))
	assert.False(t, isTempKey("u1"))
}

func TestRunCycleDeletesOnlyExpiredTempKeys(t *testing.T) {
	f := newFakeObjects()
	old := time.Now().Add(-48 * time.Hour)
	f.objects["u1/temp-a/old.jpg"] = old
	f.objects["u1/temp-a/old-thumb.jpg"] = old
	f.objects["u1/temp-b/fresh.jpg"] = time.Now()
	f.objects["u1/p1/attached.jpg"] = old // not a temp key

	j := NewJanitor(f, 24*time.Hour, time.Hour)
	stats := j.RunCycle(context.Background())

	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 2, stats.Deleted)
	assert.Zero(t, stats.Errors)
	assert.Contains(t, f.objects, "u1/temp-b/fresh.jpg")
	assert.Contains(t, f.objects, "u1/p1/attached.jpg")
	assert.NotContains(t, f.objects, "u1/temp-a/old.jpg")
}

func TestRunCycleDeleteFailureIsFailSafe(t *testing.T) {
	f := newFakeObjects()
	f.objects["u1/temp-a/old.jpg"] = time.Now().Add(-48 * time.Hour)
	f.failKeys["u1/temp-a/old.jpg"] = true

	j := NewJanitor(f, 24*time.Hour, time.Hour)
	stats := j.RunCycle(context.Background())

	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, stats.Deleted)
	// The object survives for the next cycle.
	assert.Contains(t, f.objects, "u1/temp-a/old.jpg")
}

func TestRunCycleListFailure(t *testing.T) {
	f := newFakeObjects()
	f.listErr = errors.New("storage down")

	j := NewJanitor(f, 24*time.Hour, time.Hour)
	stats := j.RunCycle(context.Background())
	assert.Equal(t, 1, stats.Errors)
}

func TestNewJanitorDefaults(t *testing.T) {
	j := NewJanitor(newFakeObjects(), 0, 0)
	assert.Equal(t, 24*time.Hour, j.ttl)
	assert.Equal(t, time.Hour, j.interval)
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewJanitor(newFakeObjects(), time.Hour, time.Minute).Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop on cancel")
	}
}
