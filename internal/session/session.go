// Package session drives one websocket client through the job protocol:
// authenticate with the upload token, choose parameters, watch progress and
// learn the outcome.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/job"
	"github.com/jmylchreest/vertd/internal/metrics"
	"github.com/jmylchreest/vertd/internal/notify"
	"github.com/jmylchreest/vertd/internal/observability"
	"github.com/jmylchreest/vertd/internal/storage"
	"github.com/jmylchreest/vertd/internal/transcode"
)

const writeTimeout = 10 * time.Second

// errClientGone ends a session whose client left before starting a job.
var errClientGone = errors.New("client disconnected")

// Conn is the subset of *websocket.Conn a session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Registry   *job.Registry
	Runtime    *job.Runtime
	Retention  *storage.Retention
	Dispatcher *notify.Dispatcher
	Logger     *slog.Logger
}

// Session is the state of one websocket connection. A session is not safe
// for concurrent use; Run owns it.
type Session struct {
	conn   Conn
	deps   Deps
	logger *slog.Logger

	done         chan struct{}
	disconnected bool
}

// New creates a session over conn.
func New(conn Conn, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:   conn,
		deps:   deps,
		logger: observability.WithComponent(logger, "session"),
		done:   make(chan struct{}),
	}
}

// Run serves the connection until the job reaches a terminal state or the
// client leaves before starting it. Once an encode has started, Run returns
// only after it has finished and the job has been bookkept, whether or not
// the client is still connected. ctx bounds the waits for client messages;
// it is not passed to the encoder.
func (s *Session) Run(ctx context.Context) {
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	defer close(s.done)

	incoming := make(chan []byte)
	go s.readLoop(s.logger, incoming)

	j, ok := s.awaitHandshake(ctx, incoming)
	if !ok {
		return
	}
	s.logger = observability.WithJob(s.logger, j.ID().String())
	s.logger.Info("client bound to job",
		slog.String("kind", string(j.Kind())),
		slog.String("from", j.From()),
	)

	switch {
	case j.Completed():
		s.send(newError(MsgAlreadyCompleted))
		return
	case j.State() == job.StateFailed:
		s.send(newError(MsgAlreadyFailed))
		return
	case j.To() != "", !s.deps.Registry.Bind(j.ID()):
		s.send(newError(MsgAlreadyRunning))
		return
	}
	defer s.deps.Registry.Release(j.ID())

	updates, startErr := s.awaitStart(ctx, incoming, j)
	if errors.Is(startErr, errClientGone) {
		return
	}

	// Keep reading so control frames are still answered while encoding.
	go func() {
		for range incoming {
		}
	}()

	var diagnostics []string
	if startErr != nil {
		s.logger.Error("failed to start encoder", slog.String("error", startErr.Error()))
		diagnostics = append(diagnostics, startErr.Error())
	} else {
		diagnostics = s.relay(updates)
	}
	s.complete(j, diagnostics)
}

// readLoop forwards text frames to out until the connection fails or Run
// returns.
func (s *Session) readLoop(logger *slog.Logger, out chan<- []byte) {
	defer close(out)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		select {
		case out <- data:
		case <-s.done:
			return
		}
	}
}

func (s *Session) next(ctx context.Context, incoming <-chan []byte) (inbound, bool) {
	for {
		select {
		case <-ctx.Done():
			return inbound{}, false
		case data, ok := <-incoming:
			if !ok {
				return inbound{}, false
			}
			msg, err := decodeInbound(data)
			if err != nil {
				s.logger.Warn("ignoring malformed message", slog.String("error", err.Error()))
				continue
			}
			return msg, true
		}
	}
}

func (s *Session) awaitHandshake(ctx context.Context, incoming <-chan []byte) (job.Job, bool) {
	for {
		msg, ok := s.next(ctx, incoming)
		if !ok {
			return nil, false
		}
		if msg.Type != TypeHello {
			s.logger.Debug("ignoring message before handshake", slog.String("type", msg.Type))
			continue
		}
		j, found := s.deps.Registry.FindByToken(msg.Auth)
		if !found {
			s.send(newError(MsgInvalidAuth))
			continue
		}
		return j, true
	}
}

// awaitStart waits for a startJob the job accepts. Rejected parameters are
// reported and the client may try again.
func (s *Session) awaitStart(ctx context.Context, incoming <-chan []byte, j job.Job) (<-chan ffmpeg.ProgressUpdate, error) {
	for {
		msg, ok := s.next(ctx, incoming)
		if !ok {
			return nil, errClientGone
		}
		if msg.Type != TypeStartJob {
			s.logger.Warn("unexpected message while awaiting parameters", slog.String("type", msg.Type))
			continue
		}

		params, err := paramsFor(j.Kind(), msg)
		if err == nil {
			var updates <-chan ffmpeg.ProgressUpdate
			updates, err = j.Start(context.WithoutCancel(ctx), s.deps.Runtime, params)
			if err == nil {
				s.deps.Registry.Replace(j)
				s.logger.Info("job started", slog.String("to", j.To()))
				return updates, nil
			}
		}
		if errors.Is(err, job.ErrInvalidParams) {
			s.logger.Info("rejected job parameters", slog.String("error", err.Error()))
			s.send(newError(clientMessage(err)))
			continue
		}
		return nil, err
	}
}

func paramsFor(kind job.Kind, msg inbound) (job.Params, error) {
	switch kind {
	case job.KindCompression:
		return job.Params{SizeKB: msg.SizeKB}, nil
	default:
		to, err := transcode.ParseFormat(msg.To)
		if err != nil {
			return job.Params{}, fmt.Errorf("%w: %w", job.ErrInvalidParams, err)
		}
		speed := transcode.SpeedMedium
		if msg.Speed != "" {
			if speed, err = transcode.ParseSpeed(msg.Speed); err != nil {
				return job.Params{}, fmt.Errorf("%w: %w", job.ErrInvalidParams, err)
			}
		}
		return job.Params{To: to, Speed: speed}, nil
	}
}

// clientMessage strips the ErrInvalidParams prefix from a rejection.
func clientMessage(err error) string {
	return strings.TrimPrefix(err.Error(), job.ErrInvalidParams.Error()+": ")
}

// relay forwards progress to the client and collects diagnostic lines. It
// returns once the encoder has finished.
func (s *Session) relay(updates <-chan ffmpeg.ProgressUpdate) []string {
	var diagnostics []string
	for u := range updates {
		if u.IsError() {
			diagnostics = append(diagnostics, u.Message)
			continue
		}
		s.send(newProgress(u))
	}
	return diagnostics
}

func (s *Session) complete(j job.Job, diagnostics []string) {
	id := j.ID().String()
	output := j.OutputPath()
	success := output != "" && storage.NonEmpty(output)

	if err := j.Finish(success); err != nil {
		s.logger.Warn("job finished twice", slog.String("error", err.Error()))
	}
	metrics.JobsFinishedTotal.WithLabelValues(string(j.Kind()), string(j.State())).Inc()

	if err := storage.RemoveFile(j.InputPath()); err != nil {
		s.logger.Error("failed to remove input file", slog.String("error", err.Error()))
	}
	// The finished job is stored before the client hears about it, so a
	// download issued on jobFinished can claim it, and before its expiry is
	// armed, so the expiry cannot be overtaken.
	s.deps.Registry.Replace(j)
	s.deps.Retention.Schedule(id, output)

	if success {
		s.logger.Info("job completed", slog.String("output", output))
		s.send(newFinished())
		return
	}

	s.logger.Error("job failed", slog.Int("diagnostic_lines", len(diagnostics)))
	s.send(newError(MsgJobFailed))
	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Dispatch(notify.Failure{
			JobID:       id,
			Kind:        string(j.Kind()),
			From:        j.From(),
			To:          j.To(),
			Diagnostics: strings.Join(diagnostics, "\n"),
		})
	}
}

// send writes v as a text frame. After the first failed write the client is
// treated as gone and later messages are dropped.
func (s *Session) send(v any) {
	if s.disconnected {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode message", slog.String("error", err.Error()))
		return
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.disconnected = true
		s.logger.Info("client disconnected, continuing without relay", slog.String("error", err.Error()))
	}
}
