package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/interfaces"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArtifactStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalArtifactStore(t.TempDir())
	require.NoError(t, err)

	art, err := store.Save(ctx, "../../etc/My Report.pdf", strings.NewReader("hello pdf"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), art.Size)
	assert.True(t, strings.HasSuffix(art.Ref, "_My_Report.pdf"))
	assert.NotContains(t, art.Ref, "/")

	rc, size, err := store.Open(ctx, art.Ref)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello pdf", string(body))
	assert.Equal(t, int64(9), size)

	require.NoError(t, store.Delete(ctx, art.Ref))
	require.NoError(t, store.Delete(ctx, art.Ref))
	_, _, err = store.Open(ctx, art.Ref)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestLocalArtifactStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalArtifactStore(t.TempDir())
	require.NoError(t, err)

	for _, ref := range []string{"", "..", "../secret", "a/b"} {
		_, _, err := store.Open(context.Background(), ref)
		assert.ErrorIs(t, err, ErrArtifactNotFound, ref)
	}
}

func TestArtifactKeysAreUnique(t *testing.T) {
	a, b := artifactKey("same.pdf"), artifactKey("same.pdf")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(artifactKey("???"), "_file"))
}

func TestSeekableBodySpoolsPlainReaders(t *testing.T) {
	body, size, cleanup, err := seekableBody(io.MultiReader(strings.NewReader("abc"), strings.NewReader("def")))
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, int64(6), size)
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b))
}

func TestSimulatedEngineWritesOutput(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalArtifactStore(t.TempDir())
	require.NoError(t, err)
	in, err := store.Save(ctx, "report.pdf", bytes.NewReader(make([]byte, 2048)))
	require.NoError(t, err)

	engine := NewSimulatedEngine(store, 0)
	engine.now = func() time.Time { return time.UnixMilli(1700000000000) }
	tool, _ := entities.LookupTool(entities.ToolPDFToWord)

	out, err := engine.Convert(ctx, interfaces.ConversionRequest{
		JobID:         "job-1",
		InputRef:      in.Ref,
		InputFilename: "report.pdf",
		Tool:          tool,
		Options:       map[string]string{"ocr": "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, "report_converted_1700000000000.docx", out.Filename)
	assert.Positive(t, out.Size)

	rc, _, err := store.Open(ctx, out.Ref)
	require.NoError(t, err)
	defer rc.Close()
	text, _ := io.ReadAll(rc)
	assert.Contains(t, string(text), "Input: report.pdf (2048 bytes)")
	assert.Contains(t, string(text), "ocr = true")
}

func TestSimulatedEngineHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store, err := NewLocalArtifactStore(t.TempDir())
	require.NoError(t, err)
	in, err := store.Save(ctx, "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	engine := NewSimulatedEngine(store, time.Hour)
	cancel()
	_, err = engine.Convert(ctx, interfaces.ConversionRequest{InputRef: in.Ref, InputFilename: "a.pdf"})
	assert.Error(t, err)
}

func TestSimulatedEngineMissingInput(t *testing.T) {
	store, err := NewLocalArtifactStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewSimulatedEngine(store, 0).Convert(context.Background(), interfaces.ConversionRequest{InputRef: "gone.pdf"})
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestKeyedLimiter(t *testing.T) {
	l := NewKeyedLimiter(0.001, 2, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.Positive(t, l.RetryAfter("alice"))
	assert.True(t, l.Allow("bob"))

	l.Reset("alice")
	assert.True(t, l.Allow("alice"))

	l.sweep(time.Now().Add(2 * time.Minute))
	assert.Empty(t, l.limiters)
}

func TestMetricsNilSafeAndExposed(t *testing.T) {
	var none *Metrics
	none.JobSubmitted("pdf_to_word")
	none.QuotaDenied("daily_limit_exceeded")

	m := NewMetrics()
	m.JobSubmitted("pdf_to_word")
	m.JobFinished("pdf_to_word", "completed", 1.5)
	m.QueueDepth(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `convertapi_jobs_submitted_total{tool="pdf_to_word"} 1`)
	assert.Contains(t, body, "convertapi_dispatch_queue_depth 3")
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifierFiltersByStatus(t *testing.T) {
	sender := &fakeSender{}
	n := &TelegramNotifier{bot: sender, chatID: 42}
	ctx := context.Background()

	require.NoError(t, n.JobFinished(ctx, &entities.Job{ID: "ok", Status: entities.JobCompleted}))
	assert.Empty(t, sender.sent)

	require.NoError(t, n.JobFinished(ctx, &entities.Job{ID: "bad", Status: entities.JobFailed, ErrorMessage: "engine_down", InputFilename: "a_b.pdf"}))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "engine\\_down")
	assert.Contains(t, msg.Text, "a\\_b.pdf")

	n.notifyCompleted = true
	sender.err = errors.New("telegram down")
	assert.Error(t, n.JobFinished(ctx, &entities.Job{ID: "ok", Status: entities.JobCompleted}))
	assert.Len(t, sender.sent, 2)
}

type blockingSender struct {
	release chan struct{}
}

func (b *blockingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-b.release
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifierHonoursContext(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	t.Cleanup(func() { close(sender.release) })
	n := &TelegramNotifier{bot: sender, chatID: 42}

	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
		want error
	}{
		{"deadline while sending", func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 20*time.Millisecond)
		}, context.DeadlineExceeded},
		{"already cancelled", func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		}, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.ctx()
			defer cancel()
			start := time.Now()
			err := n.JobFinished(ctx, &entities.Job{ID: "bad", Status: entities.JobFailed})
			assert.ErrorIs(t, err, tt.want)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}
