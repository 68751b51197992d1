package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-assistant/internal/models"
	"research-assistant/internal/registry"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type memoryAuditor struct {
	mu     sync.Mutex
	events []string
}

func (m *memoryAuditor) AppendAudit(_ context.Context, _, event, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memoryAuditor) list() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

type flakyArchive struct {
	failures int32
	calls    int32
}

func (f *flakyArchive) Store(_ context.Context, jobID, _ string) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return "", errors.New("bucket unavailable")
	}
	return "reports/" + jobID + ".md", nil
}

func TestSubmitCompletesWithReport(t *testing.T) {
	reg := registry.New()
	audit := &memoryAuditor{}
	researcher := ResearcherFunc(func(ctx context.Context, topic string, console io.Writer) (string, error) {
		fmt.Fprintf(console, "\x1b[1;32mSearching %s\x1b[0m\n", topic)
		return "# Report\n...", nil
	})
	r := New(context.Background(), reg, researcher, WithLogger(quietLogger()), WithAuditor(audit))

	job, err := r.Submit("graphene batteries")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, job.Status)
	assert.Nil(t, job.Result)

	r.Wait()
	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "# Report\n...", *got.Result)
	assert.Contains(t, got.Logs, "Searching graphene batteries")
	assert.Contains(t, got.Logs, fmt.Sprintf("[%s] Starting research on: graphene batteries", job.ID))
	assert.Equal(t, fmt.Sprintf("[%s] Research completed!", job.ID), got.Logs[len(got.Logs)-1])
	assert.Equal(t, []string{models.EventSubmitted, models.EventCompleted}, audit.list())
}

func TestSubmitRecordsFailure(t *testing.T) {
	reg := registry.New()
	r := New(context.Background(), reg, ResearcherFunc(func(context.Context, string, io.Writer) (string, error) {
		return "", errors.New("groq: http 401: invalid api key")
	}), WithLogger(quietLogger()))

	job, err := r.Submit("t")
	require.NoError(t, err)
	r.Wait()

	got, _ := reg.Get(job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "groq: http 401: invalid api key", *got.Result)
	assert.Contains(t, got.Logs[len(got.Logs)-1], "Error: groq: http 401")
}

func TestPanicAndEmptyReportFail(t *testing.T) {
	reg := registry.New()
	r := New(context.Background(), reg, ResearcherFunc(func(_ context.Context, topic string, _ io.Writer) (string, error) {
		if topic == "panic" {
			panic("boom")
		}
		return "  \n", nil
	}), WithLogger(quietLogger()))

	p, _ := r.Submit("panic")
	e, _ := r.Submit("empty")
	r.Wait()

	got, _ := reg.Get(p.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, *got.Result, "boom")

	got, _ = reg.Get(e.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, errEmptyReport.Error(), *got.Result)
}

func TestLogsVisibleWhileRunning(t *testing.T) {
	reg := registry.New()
	release := make(chan struct{})
	written := make(chan struct{})
	r := New(context.Background(), reg, ResearcherFunc(func(_ context.Context, _ string, console io.Writer) (string, error) {
		fmt.Fprint(console, "step one\nstep ")
		close(written)
		<-release
		fmt.Fprint(console, "two")
		return "done", nil
	}), WithLogger(quietLogger()))

	job, _ := r.Submit("t")
	<-written
	got, _ := reg.Get(job.ID)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Contains(t, got.Logs, "step one")
	assert.NotContains(t, got.Logs, "step two")

	close(release)
	r.Wait()
	got, _ = reg.Get(job.ID)
	assert.Contains(t, got.Logs, "step two")
}

func TestStatusLineStaysSeparateFromPartialOutput(t *testing.T) {
	reg := registry.New()
	r := New(context.Background(), reg, ResearcherFunc(func(_ context.Context, topic string, console io.Writer) (string, error) {
		fmt.Fprint(console, "Thinking...")
		if topic == "fail" {
			return "", errors.New("provider down")
		}
		return "report", nil
	}), WithLogger(quietLogger()))

	ok, _ := r.Submit("ok")
	bad, _ := r.Submit("fail")
	r.Wait()

	got, _ := reg.Get(ok.ID)
	assert.Equal(t, []string{
		fmt.Sprintf("[%s] Starting research on: ok", ok.ID),
		"Thinking...",
		fmt.Sprintf("[%s] Research completed!", ok.ID),
	}, got.Logs)

	got, _ = reg.Get(bad.ID)
	assert.Equal(t, []string{
		fmt.Sprintf("[%s] Starting research on: fail", bad.ID),
		"Thinking...",
		fmt.Sprintf("[%s] Error: provider down", bad.ID),
	}, got.Logs)
}

func TestSubmitAfterWait(t *testing.T) {
	reg := registry.New()
	r := New(context.Background(), reg, ResearcherFunc(func(context.Context, string, io.Writer) (string, error) {
		return "x", nil
	}), WithLogger(quietLogger()))

	_, err := r.Submit("before")
	require.NoError(t, err)
	r.Wait()

	_, err = r.Submit("after")
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Equal(t, 1, reg.Len())
}

func TestMaxConcurrentBoundsRunningJobs(t *testing.T) {
	reg := registry.New()
	var running, peak int32
	r := New(context.Background(), reg, ResearcherFunc(func(context.Context, string, io.Writer) (string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return "ok", nil
	}), WithLogger(quietLogger()), WithMaxConcurrent(2))

	for i := 0; i < 6; i++ {
		_, err := r.Submit(fmt.Sprintf("topic %d", i))
		require.NoError(t, err)
	}
	r.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 6, reg.Counts()[models.StatusCompleted])
}

func TestArchiveRetriesThenAudits(t *testing.T) {
	reg := registry.New()
	audit := &memoryAuditor{}
	archive := &flakyArchive{failures: 1}
	r := New(context.Background(), reg, ResearcherFunc(func(context.Context, string, io.Writer) (string, error) {
		return "report", nil
	}), WithLogger(quietLogger()), WithArchive(archive), WithAuditor(audit))
	r.backoffBase = time.Millisecond
	r.backoffMax = 2 * time.Millisecond

	_, err := r.Submit("t")
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&archive.calls))
	assert.Equal(t, []string{models.EventSubmitted, models.EventCompleted, models.EventArchived}, audit.list())
}

func TestSubmitAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg := registry.New()
	r := New(ctx, reg, ResearcherFunc(func(context.Context, string, io.Writer) (string, error) {
		return "x", nil
	}), WithLogger(quietLogger()))

	_, err := r.Submit("t")
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Equal(t, 0, reg.Len())
}

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
}
