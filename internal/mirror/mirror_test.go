package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"filemirror/internal/event"
	"filemirror/internal/logging"
	"filemirror/internal/metrics"
	"filemirror/internal/watcher"
	"filemirror/internal/watcher/watchertest"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOpenPublishesInitialEmptySnapshot(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "foo.txt", "")

	mirror, slot, err := Open(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	snapshot := slot.Read()
	if snapshot.Content() != "" || snapshot.Len() != 0 {
		t.Fatalf("expected empty snapshot, got %q", snapshot.Content())
	}
	if snapshot.Version() != 1 {
		t.Fatalf("expected version 1, got %d", snapshot.Version())
	}
	if mirror.Slot() != slot || mirror.Path() != path {
		t.Fatal("mirror accessors do not match Open results")
	}
	registrations := fake.Registrations()
	if len(registrations) != 1 || registrations[0].Path != path || registrations[0].Recursive {
		t.Fatalf("expected one non-recursive registration on %q, got %+v", path, registrations)
	}
}

func TestMirrorFollowsWrittenContent(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "foo.txt", "")

	mirror, slot, err := Open(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	if !slot.Read().Equal("") {
		t.Fatalf("expected empty content, got %q", slot.Read().Content())
	}
	if err := os.WriteFile(path, []byte("Hello, world! 42"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fake.Data(path)

	waitFor(t, func() bool { return slot.Read().Equal("Hello, world! 42") })
	if got := slot.Version(); got != 2 {
		t.Fatalf("expected version 2, got %d", got)
	}
}

func TestMirrorConvergesToLastWrite(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "notes.txt", "start")

	mirror, slot, err := Open(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	var last string
	for i := 1; i <= 20; i++ {
		last = fmt.Sprintf("write %d", i)
		if err := os.WriteFile(path, []byte(last), 0o600); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		// Some writes produce no event of their own; the next one catches up.
		if i%3 != 0 {
			fake.Data(path)
		}
	}
	fake.Data(path)

	waitFor(t, func() bool { return slot.Read().Equal(last) })
}

func TestMirrorDuplicateDataEventsAreIdempotent(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "same.txt", "steady")

	mirror, slot, err := Open(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	for i := 0; i < 5; i++ {
		fake.Data(path)
	}
	waitFor(t, func() bool { return mirror.Stats().Rereads == 5 })

	if !slot.Read().Equal("steady") {
		t.Fatalf("expected unchanged content, got %q", slot.Read().Content())
	}
	if stats := mirror.Stats(); stats.RereadFailures != 0 || stats.Published != 6 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestMirrorIgnoresNonDataEvents(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "meta.txt", "original")

	var reads atomic.Int64
	readFile := func(name string) ([]byte, error) {
		reads.Add(1)
		return os.ReadFile(name)
	}

	mirror, slot, err := Open(path, Options{Watch: fake, ReadFile: readFile})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	fake.Metadata(path)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	events := []watcher.Event{
		{Kind: watcher.KindCreate, Path: path},
		{Kind: watcher.KindModify, Modify: watcher.ModifyName, Path: path},
		{Kind: watcher.KindModify, Modify: watcher.ModifyAny, Path: path},
		{Kind: watcher.KindRemove, Path: path},
		watcher.NewErrorEvent(errors.New("event queue overflow")),
	}
	for _, notification := range events {
		fake.Emit(notification)
	}

	waitFor(t, func() bool { return mirror.Stats().EventsObserved == 6 })
	if got := reads.Load(); got != 1 {
		t.Fatalf("expected only the initial read, got %d reads", got)
	}
	if stats := mirror.Stats(); stats.Rereads != 0 || stats.RereadFailures != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !slot.Read().Equal("original") || slot.Version() != 1 {
		t.Fatalf("expected original snapshot, got %q (v%d)", slot.Read().Content(), slot.Version())
	}
	if mirror.LastError() != nil {
		t.Fatalf("expected no recorded error, got %v", mirror.LastError())
	}
}

func TestMirrorRecordsTransientReReadFailure(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "gone.txt", "before")

	mirror, slot, err := Open(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	fake.Data(path)
	waitFor(t, func() bool { return mirror.Stats().RereadFailures == 1 })

	lastErr := mirror.LastError()
	if !errors.Is(lastErr, ErrTransientReRead) || !errors.Is(lastErr, fs.ErrNotExist) {
		t.Fatalf("expected transient not-exist failure, got %v", lastErr)
	}
	var failure *TransientReReadError
	if !errors.As(lastErr, &failure) || !failure.Event.IsDataChange() || failure.Path != path {
		t.Fatalf("unexpected failure detail %+v", failure)
	}
	if !slot.Read().Equal("before") {
		t.Fatalf("expected last snapshot to survive, got %q", slot.Read().Content())
	}

	if err := os.WriteFile(path, []byte("after"), 0o600); err != nil {
		t.Fatalf("recreate file: %v", err)
	}
	fake.Data(path)
	waitFor(t, func() bool { return slot.Read().Equal("after") })
}

func TestMirrorRejectsInvalidUTF8OnReRead(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "text.txt", "valid")

	mirror, slot, err := Open(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00}, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fake.Data(path)
	waitFor(t, func() bool { return mirror.Stats().RereadFailures == 1 })

	if !errors.Is(mirror.LastError(), ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", mirror.LastError())
	}
	if !slot.Read().Equal("valid") {
		t.Fatalf("expected previous content, got %q", slot.Read().Content())
	}
}

func TestOpenInitialReadErrors(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "binary.dat")
	if err := os.WriteFile(binary, []byte{0xc3, 0x28}, 0o600); err != nil {
		t.Fatalf("write binary file: %v", err)
	}

	cases := []struct {
		name  string
		path  string
		cause error
	}{
		{name: "missing", path: filepath.Join(dir, "missing.txt"), cause: fs.ErrNotExist},
		{name: "invalid utf8", path: binary, cause: ErrInvalidUTF8},
	}

	for _, testCase := range cases {
		fake := watchertest.New()
		mirror, slot, err := Open(testCase.path, Options{Watch: fake})
		if mirror != nil || slot != nil {
			t.Fatalf("%s: expected no mirror on failure", testCase.name)
		}
		if !errors.Is(err, ErrInitialRead) || !errors.Is(err, testCase.cause) {
			t.Fatalf("%s: expected initial read error wrapping %v, got %v", testCase.name, testCase.cause, err)
		}
		if fake.Active() != 0 {
			t.Fatalf("%s: expected the watch to be released", testCase.name)
		}
	}
}

func TestOpenInitialReadErrorsWithRealWatcher(t *testing.T) {
	_, _, err := Open(filepath.Join(t.TempDir(), "missing.txt"), Options{})
	if !errors.Is(err, ErrInitialRead) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected initial read error for missing file, got %v", err)
	}
}

func TestOpenWatchesBeforeInitialRead(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "a.txt", "old")

	var calls atomic.Int64
	var activeDuringRead atomic.Int64
	readFile := func(name string) ([]byte, error) {
		if calls.Add(1) == 1 {
			activeDuringRead.Store(int64(fake.Active()))
			// The file changes after it was read but before Open returns.
			if err := os.WriteFile(name, []byte("new"), 0o600); err != nil {
				return nil, err
			}
			fake.Data(name)
			return []byte("old"), nil
		}
		return os.ReadFile(name)
	}

	mirror, slot, err := Open(path, Options{Watch: fake, ReadFile: readFile})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	if got := activeDuringRead.Load(); got != 1 {
		t.Fatalf("expected the watch to be registered during the initial read, got %d", got)
	}
	waitFor(t, func() bool { return slot.Read().Content() == "new" })
	if got := slot.Read().Version(); got != 2 {
		t.Fatalf("expected version 2, got %d", got)
	}
}

func TestOpenWatchSetupError(t *testing.T) {
	fake := watchertest.New()
	fake.WatchErr = watcher.ErrMaxWatchesExceeded
	path := writeFile(t, "a.txt", "x")

	_, _, err := Open(path, Options{Watch: fake})
	if !errors.Is(err, ErrWatchSetup) || !errors.Is(err, watcher.ErrMaxWatchesExceeded) {
		t.Fatalf("expected watch setup error, got %v", err)
	}
	var setupErr *WatchSetupError
	if !errors.As(err, &setupErr) || setupErr.Path != path {
		t.Fatalf("unexpected error detail %v", err)
	}
}

func TestMirrorCloseFreezesSlot(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "frozen.txt", "final")

	mirror, slot, err := Open(path, Options{Watch: fake})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := mirror.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mirror.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := os.WriteFile(path, []byte("changed"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if delivered := fake.Data(path); delivered != 0 {
		t.Fatalf("expected no callback after close, got %d", delivered)
	}
	if !fake.Registrations()[0].Closed() {
		t.Fatal("expected registration to be released")
	}

	time.Sleep(20 * time.Millisecond)
	if !slot.Read().Equal("final") || slot.Version() != 1 {
		t.Fatalf("expected frozen snapshot, got %q (v%d)", slot.Read().Content(), slot.Version())
	}
}

func TestMirrorCloseDiscardsPendingEvents(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "pending.txt", "v1")

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	readFile := func(name string) ([]byte, error) {
		if calls.Add(1) == 2 {
			close(started)
			<-release
		}
		return os.ReadFile(name)
	}

	mirror, slot, err := Open(path, Options{Watch: fake, ReadFile: readFile})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fake.Data(path)
	<-started
	fake.Data(path)
	fake.Data(path)

	closed := make(chan error, 1)
	go func() {
		closed <- mirror.Close()
	}()
	waitFor(t, func() bool { return mirror.closing.Load() })
	close(release)

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return")
	}

	if got := mirror.Stats().Rereads; got != 1 {
		t.Fatalf("expected pending events to be discarded, got %d re-reads", got)
	}
	if !slot.Read().Equal("v2") || slot.Version() != 2 {
		t.Fatalf("expected in-flight re-read to land, got %q (v%d)", slot.Read().Content(), slot.Version())
	}
}

func TestSlotReadsAreNeverTorn(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "torn.txt", "")

	var calls atomic.Uint64
	readFile := func(string) ([]byte, error) {
		return []byte(versionedContent(calls.Add(1))), nil
	}

	mirror, slot, err := Open(path, Options{Watch: fake, ReadFile: readFile})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	const publishes = 200
	var wg sync.WaitGroup
	failures := make(chan string, 8)
	for reader := 0; reader < 8; reader++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var previous uint64
			for slot.Version() < publishes+1 {
				snapshot := slot.Read()
				if snapshot.Content() != versionedContent(snapshot.Version()) {
					failures <- fmt.Sprintf("torn snapshot at version %d", snapshot.Version())
					return
				}
				if snapshot.Version() < previous {
					failures <- fmt.Sprintf("version went back from %d to %d", previous, snapshot.Version())
					return
				}
				previous = snapshot.Version()
			}
		}()
	}

	for i := 0; i < publishes; i++ {
		fake.Data(path)
	}
	wg.Wait()
	close(failures)
	for failure := range failures {
		t.Fatal(failure)
	}
}

func TestMirrorPlatformVariance(t *testing.T) {
	cases := []struct {
		name   string
		events []watcher.Event
		want   string
	}{
		{
			name: "single data event",
			events: []watcher.Event{
				{Kind: watcher.KindModify, Modify: watcher.ModifyData},
			},
			want: "Hello, world! 42",
		},
		{
			name: "many data events",
			events: []watcher.Event{
				{Kind: watcher.KindModify, Modify: watcher.ModifyData},
				{Kind: watcher.KindModify, Modify: watcher.ModifyData},
				{Kind: watcher.KindModify, Modify: watcher.ModifyData},
			},
			want: "Hello, world! 42",
		},
		{
			name: "metadata then data",
			events: []watcher.Event{
				{Kind: watcher.KindModify, Modify: watcher.ModifyMetadata},
				{Kind: watcher.KindModify, Modify: watcher.ModifyData},
				{Kind: watcher.KindModify, Modify: watcher.ModifyMetadata},
				{Kind: watcher.KindModify, Modify: watcher.ModifyData},
			},
			want: "Hello, world! 42",
		},
		{
			name: "metadata only",
			events: []watcher.Event{
				{Kind: watcher.KindModify, Modify: watcher.ModifyMetadata},
			},
			want: "",
		},
		{
			name:   "no events",
			events: nil,
			want:   "",
		},
	}

	for _, testCase := range cases {
		fake := watchertest.New()
		path := writeFile(t, "foo.txt", "")
		mirror, slot, err := Open(path, Options{Watch: fake})
		if err != nil {
			t.Fatalf("%s: open: %v", testCase.name, err)
		}
		if err := os.WriteFile(path, []byte("Hello, world! 42"), 0o600); err != nil {
			t.Fatalf("%s: write file: %v", testCase.name, err)
		}
		for _, notification := range testCase.events {
			notification.Path = path
			fake.Emit(notification)
		}
		expected := uint64(len(testCase.events))
		waitFor(t, func() bool { return mirror.Stats().EventsObserved == expected })
		if !slot.Read().Equal(testCase.want) {
			t.Fatalf("%s: expected %q, got %q", testCase.name, testCase.want, slot.Read().Content())
		}
		_ = mirror.Close()
	}
}

func TestMirrorPublishesBusNotifications(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "bus.txt", "one")
	bus := event.NewBus[event.MirrorEvent](context.Background(), event.BusOptions{
		Name:     "mirror",
		Registry: metrics.New(),
	})
	defer bus.Close()

	published, cancelPublished := bus.SubscribeTypes(event.MirrorSnapshotPublished)
	defer cancelPublished()
	observed, cancelObserved := bus.SubscribeTypes(event.MirrorEventObserved, event.MirrorNotifyError, event.MirrorRereadFailed)
	defer cancelObserved()

	mirror, _, err := Open(path, Options{Watch: fake, Bus: bus})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	initial := event.ReceiveWithTimeout(t, published, time.Second)
	if initial.Version != 1 || initial.Size != 3 || initial.Trigger != "" {
		t.Fatalf("unexpected initial notification %+v", initial)
	}

	if err := os.WriteFile(path, []byte("two!"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fake.Data(path)
	event.MatchEvent(t, event.ReceiveWithTimeout(t, published, time.Second)).
		Require("version 2", func(notification event.MirrorEvent) bool { return notification.Version == 2 }).
		Require("size 4", func(notification event.MirrorEvent) bool { return notification.Size == 4 }).
		Require("trigger", func(notification event.MirrorEvent) bool {
			return notification.Trigger == watcher.TypeModifyData
		})

	fake.Metadata(path)
	metadata := event.ReceiveWithTimeout(t, observed, time.Second)
	if metadata.EventType != event.MirrorEventObserved || metadata.Trigger != watcher.TypeModifyMetadata {
		t.Fatalf("unexpected observed notification %+v", metadata)
	}
	event.ExpectNone(t, published, 50*time.Millisecond)

	fake.Error(errors.New("overflow"))
	failure := event.ReceiveWithTimeout(t, observed, time.Second)
	if failure.EventType != event.MirrorNotifyError || !strings.Contains(failure.Error, "overflow") {
		t.Fatalf("unexpected error notification %+v", failure)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	fake.Data(path)
	reread := event.ReceiveMatching(t, observed, time.Second, event.OfType[event.MirrorEvent](event.MirrorRereadFailed))
	if reread.EventType != event.MirrorRereadFailed || reread.Version != 2 || reread.Error == "" {
		t.Fatalf("unexpected reread failure notification %+v", reread)
	}
}

func TestMirrorRecordsMetrics(t *testing.T) {
	fake := watchertest.New()
	registry := metrics.New()
	path := writeFile(t, "metrics.txt", "")

	mirror, _, err := Open(path, Options{Watch: fake, Metrics: registry})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fake.Data(path)
	fake.Metadata(path)
	waitFor(t, func() bool { return mirror.Stats().EventsObserved == 2 })

	expected := `
# HELP filemirror_mirror_rereads_total File re-reads triggered by data change events.
# TYPE filemirror_mirror_rereads_total counter
filemirror_mirror_rereads_total 1
# HELP filemirror_mirror_snapshots_published_total Snapshots published to mirror slots.
# TYPE filemirror_mirror_snapshots_published_total counter
filemirror_mirror_snapshots_published_total 2
`
	if err := testutil.GatherAndCompare(registry.Gatherer(), strings.NewReader(expected),
		"filemirror_mirror_rereads_total", "filemirror_mirror_snapshots_published_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestMirrorRateLimitsFailureWarnings(t *testing.T) {
	fake := watchertest.New()
	path := writeFile(t, "limited.txt", "x")
	logBuffer := logging.NewLogBuffer(100)
	logger := logging.NewLoggerWithOutput(logBuffer, logging.LevelDebug, nil)

	mirror, _, err := Open(path, Options{
		Watch:              fake,
		Logger:             logger,
		FailureLogInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	for i := 0; i < 3; i++ {
		fake.Data(path)
	}
	waitFor(t, func() bool { return mirror.Stats().RereadFailures == 3 })

	warnings, debug := 0, 0
	for _, entry := range logBuffer.Matching(logging.LevelDebug, "mirror") {
		if entry.Message != "re-read failed, keeping last snapshot" {
			continue
		}
		if entry.Field("path") != path {
			t.Fatalf("unexpected log context %v", entry.Context)
		}
		switch entry.Level {
		case logging.LevelWarning:
			warnings++
		case logging.LevelDebug:
			debug++
		}
	}
	if warnings != 1 || debug != 2 {
		t.Fatalf("expected 1 warning and 2 debug entries, got %d and %d", warnings, debug)
	}
}

func TestMirrorWithPrivateWatcher(t *testing.T) {
	path := writeFile(t, "real.txt", "")

	mirror, slot, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mirror.Close()

	if err := os.WriteFile(path, []byte("Hello, world! 42"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !slot.Read().Equal("Hello, world! 42") {
		if time.Now().After(deadline) {
			t.Fatalf("mirror did not catch up, content %q", slot.Read().Content())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func versionedContent(version uint64) string {
	return strings.Repeat(fmt.Sprintf("%d;", version), 64)
}
