package channel

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filemirror/internal/metrics"
	"filemirror/internal/watcher"
	"filemirror/internal/watcher/watchertest"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSubscribePreservesOrder(t *testing.T) {
	fake := watchertest.New()
	path := createFile(t)

	subscription, receiver, err := Subscribe(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscription.Close()

	sent := []watcher.Event{
		{Kind: watcher.KindCreate, Path: path},
		{Kind: watcher.KindModify, Modify: watcher.ModifyMetadata, Path: path},
		{Kind: watcher.KindModify, Modify: watcher.ModifyData, Path: path},
		watcher.NewErrorEvent(errors.New("overflow")),
		{Kind: watcher.KindRemove, Path: path},
	}
	for _, event := range sent {
		fake.Emit(event)
	}
	if got := receiver.Len(); got != len(sent) {
		t.Fatalf("expected %d buffered events, got %d", len(sent), got)
	}

	ctx := testContext(t)
	for index, want := range sent {
		got, err := receiver.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", index, err)
		}
		if got.Kind != want.Kind || got.Modify != want.Modify {
			t.Fatalf("event %d: expected %s, got %s", index, want.Type(), got.Type())
		}
	}
}

func TestReceiverReturnsClosedAfterDrain(t *testing.T) {
	fake := watchertest.New()
	path := createFile(t)

	subscription, receiver, err := Subscribe(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fake.Data(path)
	fake.Data(path)

	if err := subscription.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := subscription.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if delivered := fake.Data(path); delivered != 0 {
		t.Fatalf("expected no delivery after close, got %d", delivered)
	}

	ctx := testContext(t)
	for i := 0; i < 2; i++ {
		if _, err := receiver.Next(ctx); err != nil {
			t.Fatalf("expected buffered event %d, got %v", i, err)
		}
	}
	if _, err := receiver.Next(ctx); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if _, err := receiver.Next(ctx); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed again, got %v", err)
	}
}

func TestReceiverNextUnblocksOnClose(t *testing.T) {
	fake := watchertest.New()
	subscription, receiver, err := Subscribe(createFile(t), Options{Watch: fake})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := receiver.Next(context.Background())
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = subscription.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrChannelClosed) {
			t.Fatalf("expected ErrChannelClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("next did not return after close")
	}
}

func TestReceiverNextHonorsContext(t *testing.T) {
	fake := watchertest.New()
	subscription, receiver, err := Subscribe(createFile(t), Options{Watch: fake})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscription.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := receiver.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSubscribeMissingPath(t *testing.T) {
	fake := watchertest.New()
	missing := filepath.Join(t.TempDir(), "missing.txt")

	_, _, err := Subscribe(missing, Options{Watch: fake})
	if !errors.Is(err, ErrWatchSetup) {
		t.Fatalf("expected ErrWatchSetup, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist cause, got %v", err)
	}
	var setupErr *WatchSetupError
	if !errors.As(err, &setupErr) || setupErr.Path != missing {
		t.Fatalf("expected WatchSetupError for %q, got %v", missing, err)
	}
	if fake.Active() != 0 {
		t.Fatal("expected no registration for a missing path")
	}
}

func TestSubscribeBackendFailure(t *testing.T) {
	fake := watchertest.New()
	fake.WatchErr = watcher.ErrMaxWatchesExceeded

	_, _, err := Subscribe(createFile(t), Options{Watch: fake})
	if !errors.Is(err, ErrWatchSetup) || !errors.Is(err, watcher.ErrMaxWatchesExceeded) {
		t.Fatalf("expected wrapped backend failure, got %v", err)
	}
}

func TestSubscribeDirectoryIsRecursive(t *testing.T) {
	fake := watchertest.New()
	dir := t.TempDir()

	subscription, _, err := Subscribe(dir, Options{Watch: fake})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscription.Close()

	registrations := fake.Registrations()
	if len(registrations) != 1 || !registrations[0].Recursive {
		t.Fatalf("expected one recursive registration, got %+v", registrations)
	}
	if subscription.Path() != dir {
		t.Fatalf("expected path %q, got %q", dir, subscription.Path())
	}
}

func TestOverlappingSubscriptionsReceiveDuplicateStreams(t *testing.T) {
	fake := watchertest.New()
	path := createFile(t)

	first, firstReceiver, err := Subscribe(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	defer first.Close()
	second, secondReceiver, err := Subscribe(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("subscribe second: %v", err)
	}
	defer second.Close()

	fake.Data(path)
	fake.Metadata(path)

	ctx := testContext(t)
	for name, receiver := range map[string]*Receiver{"first": firstReceiver, "second": secondReceiver} {
		for _, want := range []string{watcher.TypeModifyData, watcher.TypeModifyMetadata} {
			event, err := receiver.Next(ctx)
			if err != nil {
				t.Fatalf("%s: next: %v", name, err)
			}
			if event.Type() != want {
				t.Fatalf("%s: expected %s, got %s", name, want, event.Type())
			}
		}
	}
}

func TestReceiverEventsRangesUntilClosed(t *testing.T) {
	fake := watchertest.New()
	path := createFile(t)
	subscription, receiver, err := Subscribe(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		fake.Data(path)
	}
	_ = subscription.Close()

	count := 0
	for event := range receiver.Events(testContext(t)) {
		if !event.IsDataChange() {
			t.Fatalf("unexpected event %s", event)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 events, got %d", count)
	}
}

func TestSubscribeCountsQueuedEvents(t *testing.T) {
	fake := watchertest.New()
	registry := metrics.New()
	path := createFile(t)

	subscription, _, err := Subscribe(path, Options{Watch: fake, Metrics: registry})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fake.Data(path)
	fake.Data(path)
	_ = subscription.Close()

	expected := `
# HELP filemirror_channel_events_queued_total Events queued for event channel receivers.
# TYPE filemirror_channel_events_queued_total counter
filemirror_channel_events_queued_total 2
# HELP filemirror_channel_subscriptions Open event channel subscriptions.
# TYPE filemirror_channel_subscriptions gauge
filemirror_channel_subscriptions 0
`
	if err := testutil.GatherAndCompare(registry.Gatherer(), strings.NewReader(expected),
		"filemirror_channel_events_queued_total", "filemirror_channel_subscriptions"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestSubscribeWithPrivateWatcher(t *testing.T) {
	path := createFile(t)

	subscription, receiver, err := Subscribe(path, Options{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscription.Close()

	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		event, err := receiver.Next(ctx)
		if err != nil {
			t.Fatalf("expected a data event, got %v", err)
		}
		if event.IsDataChange() {
			if event.Path != path {
				t.Fatalf("expected path %q, got %q", path, event.Path)
			}
			return
		}
	}
}

func createFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watched.txt")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("create file: %v", err)
	}
	return path
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSharedWatcherDirectorySubscriberSeesOneEventPerWrite(t *testing.T) {
	shared, err := watcher.New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer shared.Close()

	path := createFile(t)
	dir := filepath.Dir(path)
	subscription, receiver, err := Subscribe(dir, Options{Watch: shared})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscription.Close()
	handle, err := shared.Watch(path, false, func(watcher.Event) {})
	if err != nil {
		t.Fatalf("watch file: %v", err)
	}
	defer handle.Close()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	if _, err := file.Write([]byte("once")); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		event, err := receiver.Next(ctx)
		if err != nil {
			t.Fatalf("expected a data event, got %v", err)
		}
		if event.IsDataChange() {
			break
		}
	}

	quiet, stop := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer stop()
	for {
		event, err := receiver.Next(quiet)
		if errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if event.IsDataChange() {
			t.Fatalf("expected one data event for one write, got another: %s", event)
		}
	}
}
