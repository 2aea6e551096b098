// Package notify reports failed jobs to operators through a
// Discord-compatible webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/jmylchreest/vertd/internal/httpclient"
)

const (
	embedTitle = "vertd job failed!"
	embedColor = 0xff83fa
	alarm      = "\U0001F6A8\U0001F6A8\U0001F6A8"
)

// Failure describes a job whose encode produced no output.
type Failure struct {
	JobID       string
	Kind        string
	From        string
	To          string
	Diagnostics string
}

// Notifier delivers failure reports.
type Notifier interface {
	NotifyFailure(ctx context.Context, f Failure) error
}

// Noop discards every report. It is used when no webhook is configured.
type Noop struct{}

func (Noop) NotifyFailure(context.Context, Failure) error { return nil }

// Discord posts failure reports as an embed with the diagnostics attached as
// {id}.log.
type Discord struct {
	client *httpclient.Client
	url    string
	pings  string
}

// NewDiscord creates a notifier posting to url. pings is prepended to the
// message content, e.g. "<@&1234>".
func NewDiscord(client *httpclient.Client, url, pings string) *Discord {
	return &Discord{client: client, url: url, pings: pings}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title  string       `json:"title"`
	Color  int          `json:"color"`
	Fields []embedField `json:"fields"`
}

type attachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type payload struct {
	Content     string       `json:"content"`
	Embeds      []embed      `json:"embeds"`
	Attachments []attachment `json:"attachments"`
}

// NotifyFailure sends one report.
func (d *Discord) NotifyFailure(ctx context.Context, f Failure) error {
	body, contentType, err := buildMessage(f, d.pings)
	if err != nil {
		return err
	}

	resp, err := d.client.Post(ctx, d.url, contentType, body)
	if err != nil {
		return fmt.Errorf("posting failure report: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func buildMessage(f Failure, pings string) ([]byte, string, error) {
	logName := f.JobID + ".log"
	p := payload{
		Content: alarm + " " + pings,
		Embeds: []embed{{
			Title: embedTitle,
			Color: embedColor,
			Fields: []embedField{
				{Name: "job id", Value: f.JobID},
				{Name: "from", Value: "." + f.From, Inline: true},
				{Name: "to", Value: "." + f.To, Inline: true},
			},
		}},
		Attachments: []attachment{{ID: 0, Filename: logName}},
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("encoding payload: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("payload_json", string(payloadJSON)); err != nil {
		return nil, "", fmt.Errorf("writing payload field: %w", err)
	}
	part, err := w.CreateFormFile("files[0]", logName)
	if err != nil {
		return nil, "", fmt.Errorf("creating log attachment: %w", err)
	}
	if _, err := io.WriteString(part, f.Diagnostics); err != nil {
		return nil, "", fmt.Errorf("writing log attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Dispatcher sends reports in the background so job completion never waits
// on the webhook.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
	sent     func(err error)
}

// NewDispatcher wraps notifier. Each report gets its own timeout.
func NewDispatcher(notifier Notifier, timeout time.Duration) *Dispatcher {
	return &Dispatcher{notifier: notifier, timeout: timeout, logger: slog.Default()}
}

// WithLogger sets the logger.
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// OnSent registers a callback run after every delivery attempt.
func (d *Dispatcher) OnSent(fn func(err error)) *Dispatcher {
	d.sent = fn
	return d
}

// Dispatch sends f asynchronously. Delivery errors are logged only.
func (d *Dispatcher) Dispatch(f Failure) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.notifier.NotifyFailure(ctx, f)
		if err != nil {
			d.logger.Error("failed to send failure notification",
				slog.String("job_id", f.JobID),
				slog.String("kind", f.Kind),
				slog.String("error", err.Error()),
			)
		} else {
			d.logger.Debug("failure notification sent", slog.String("job_id", f.JobID))
		}
		if d.sent != nil {
			d.sent(err)
		}
	}()
}
