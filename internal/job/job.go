// Package job defines vertd's conversion and compression jobs, the per-job
// media memo and the process-wide registry that owns them between requests.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/vertd/internal/compress"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/storage"
	"github.com/jmylchreest/vertd/internal/transcode"
)

// Kind distinguishes the job variants.
type Kind string

const (
	KindConversion  Kind = "conversion"
	KindCompression Kind = "compression"
)

// ParseKind parses the jobType field of an upload.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindConversion, KindCompression:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown job type %q", s)
	}
}

// State is the lifecycle state of a job.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var (
	// ErrInvalidParams wraps every rejection of client supplied job
	// parameters. The client may correct them and try again.
	ErrInvalidParams = errors.New("invalid job parameters")

	// ErrAlreadyStarted is returned when a target has already been chosen.
	ErrAlreadyStarted = errors.New("job already started")

	// ErrAlreadyFinished is returned when finishing a job twice.
	ErrAlreadyFinished = errors.New("job already finished")
)

// Params are the client's choices sent with startJob. Conversion jobs read
// To and Speed; compression jobs read SizeKB.
type Params struct {
	To     transcode.Format
	Speed  transcode.Speed
	SizeKB uint64
}

// Runtime bundles the collaborators jobs need to start encoding.
type Runtime struct {
	Policy     *transcode.Policy
	Compressor *compress.Controller
	Runner     ffmpeg.Runner
	Negotiator transcode.Negotiator
}

// Job is implemented by Conversion and Compression.
type Job interface {
	ID() models.ULID
	Auth() models.Token
	Kind() Kind
	From() string
	// To is empty until the client has chosen a target.
	To() string
	State() State
	Completed() bool
	CreatedAt() time.Time
	InputPath() string
	// OutputPath is empty until the client has chosen a target.
	OutputPath() string
	Media() *Media

	// Start validates p, fixes the target and launches the encoder. Errors
	// wrapping ErrInvalidParams leave the job untouched.
	Start(ctx context.Context, rt *Runtime, p Params) (<-chan ffmpeg.ProgressUpdate, error)
	// Finish moves the job out of the processing state.
	Finish(success bool) error

	Info() Info
	Clone() Job
}

// Info is the client visible view of a job.
type Info struct {
	Type         Kind         `json:"type"`
	ID           models.ULID  `json:"id"`
	Auth         models.Token `json:"auth"`
	From         string       `json:"from"`
	To           string       `json:"to,omitempty"`
	State        State        `json:"state"`
	Completed    bool         `json:"completed"`
	TotalFrames  uint64       `json:"totalFrames,omitempty"`
	TargetSizeKB uint64       `json:"targetSizeKb,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// base holds the fields shared by both job kinds.
type base struct {
	id        models.ULID
	auth      models.Token
	from      string
	to        string
	state     State
	createdAt time.Time
	layout    *storage.Layout
	media     *Media
}

func newBase(layout *storage.Layout, from string, prober MediaProber) (base, error) {
	auth, err := models.NewToken()
	if err != nil {
		return base{}, err
	}
	b := base{
		id:        models.NewULID(),
		auth:      auth,
		from:      from,
		state:     StateProcessing,
		createdAt: time.Now(),
		layout:    layout,
	}
	b.media = NewMedia(prober, b.InputPath())
	return b, nil
}

func (b *base) ID() models.ULID      { return b.id }
func (b *base) Auth() models.Token   { return b.auth }
func (b *base) From() string         { return b.from }
func (b *base) To() string           { return b.to }
func (b *base) State() State         { return b.state }
func (b *base) Completed() bool      { return b.state == StateCompleted }
func (b *base) CreatedAt() time.Time { return b.createdAt }
func (b *base) Media() *Media        { return b.media }

func (b *base) InputPath() string {
	return b.layout.InputPath(b.id.String(), b.from)
}

func (b *base) OutputPath() string {
	if b.to == "" {
		return ""
	}
	return b.layout.OutputPath(b.id.String(), b.to)
}

func (b *base) setTarget(to string) error {
	if b.to != "" {
		return ErrAlreadyStarted
	}
	b.to = to
	return nil
}

func (b *base) Finish(success bool) error {
	if b.state != StateProcessing {
		return ErrAlreadyFinished
	}
	if success {
		b.state = StateCompleted
	} else {
		b.state = StateFailed
	}
	return nil
}

func (b *base) info(kind Kind) Info {
	info := Info{
		Type:      kind,
		ID:        b.id,
		Auth:      b.auth,
		From:      b.from,
		To:        b.to,
		State:     b.state,
		Completed: b.Completed(),
		CreatedAt: b.createdAt,
	}
	if frames, ok := b.media.CachedTotalFrames(); ok {
		info.TotalFrames = frames
	}
	return info
}

func (b base) clone() base {
	b.media = b.media.clone()
	return b
}

// New creates a job of the given kind for an upload with extension from.
// The caller stores the upload at the returned job's InputPath.
func New(kind Kind, layout *storage.Layout, from string, prober MediaProber) (Job, error) {
	switch kind {
	case KindConversion:
		return NewConversion(layout, from, prober)
	case KindCompression:
		return NewCompression(layout, from, prober)
	default:
		return nil, fmt.Errorf("unknown job type %q", kind)
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidParams, err)
}
