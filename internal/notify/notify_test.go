package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/httpclient"
)

type received struct {
	payload  payload
	filename string
	log      string
}

func webhookServer(t *testing.T, status int) (*httptest.Server, <-chan received) {
	t.Helper()
	got := make(chan received, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if !assert.NoError(t, err) || !assert.Equal(t, "multipart/form-data", mediaType) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var rec received
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "payload_json":
				assert.NoError(t, json.Unmarshal(data, &rec.payload))
			case "files[0]":
				rec.filename = part.FileName()
				rec.log = string(data)
			}
		}
		got <- rec
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func testClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpclient.New(cfg)
}

func TestDiscord_NotifyFailure(t *testing.T) {
	srv, got := webhookServer(t, http.StatusOK)
	d := NewDiscord(testClient(), srv.URL, "<@&42>")

	err := d.NotifyFailure(context.Background(), Failure{
		JobID:       "01J9Z8Y7X6W5V4T3S2R1Q0P9N8",
		Kind:        "conversion",
		From:        "mkv",
		To:          "webm",
		Diagnostics: "Error while opening encoder\nConversion failed!",
	})
	require.NoError(t, err)

	rec := <-got
	assert.Equal(t, alarm+" <@&42>", rec.payload.Content)
	require.Len(t, rec.payload.Embeds, 1)

	e := rec.payload.Embeds[0]
	assert.Equal(t, "vertd job failed!", e.Title)
	assert.Equal(t, 0xff83fa, e.Color)
	assert.Equal(t, []embedField{
		{Name: "job id", Value: "01J9Z8Y7X6W5V4T3S2R1Q0P9N8"},
		{Name: "from", Value: ".mkv", Inline: true},
		{Name: "to", Value: ".webm", Inline: true},
	}, e.Fields)

	assert.Equal(t, "01J9Z8Y7X6W5V4T3S2R1Q0P9N8.log", rec.filename)
	assert.Equal(t, "Error while opening encoder\nConversion failed!", rec.log)
	assert.Equal(t, []attachment{{ID: 0, Filename: rec.filename}}, rec.payload.Attachments)
}

func TestDiscord_NotifyFailure_Rejected(t *testing.T) {
	srv, _ := webhookServer(t, http.StatusUnauthorized)
	d := NewDiscord(testClient(), srv.URL, "")

	err := d.NotifyFailure(context.Background(), Failure{JobID: "x"})
	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

type recordingNotifier struct {
	got chan Failure
	err error
}

func (r *recordingNotifier) NotifyFailure(ctx context.Context, f Failure) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("dispatch context has no deadline")
	}
	r.got <- f
	return r.err
}

func TestDispatcher(t *testing.T) {
	rec := &recordingNotifier{got: make(chan Failure, 1), err: errors.New("webhook down")}
	results := make(chan error, 1)

	d := NewDispatcher(rec, time.Second).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		OnSent(func(err error) { results <- err })

	d.Dispatch(Failure{JobID: "abc", From: "mov", To: "mp4"})

	select {
	case f := <-rec.got:
		assert.Equal(t, "abc", f.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not dispatched")
	}
	assert.EqualError(t, <-results, "webhook down")
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.NotifyFailure(context.Background(), Failure{}))
}
