package session

import (
	"encoding/json"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
)

// Message types exchanged over the socket.
const (
	TypeHello          = "hello"
	TypeStartJob       = "startJob"
	TypeProgressUpdate = "progressUpdate"
	TypeJobFinished    = "jobFinished"
	TypeError          = "error"
)

// Client facing error texts.
const (
	MsgInvalidAuth      = "invalid auth"
	MsgAlreadyCompleted = "job already completed"
	MsgAlreadyRunning   = "job already in progress"
	MsgAlreadyFailed    = "job already failed"
	MsgJobFailed        = "your job failed! the server operators have been notified"
)

// inbound is the union of every client message. Fields irrelevant to Type
// are ignored.
type inbound struct {
	Type   string `json:"type"`
	Auth   string `json:"auth,omitempty"`
	To     string `json:"to,omitempty"`
	Speed  string `json:"speed,omitempty"`
	SizeKB uint64 `json:"sizeKb,omitempty"`
}

func decodeInbound(data []byte) (inbound, error) {
	var m inbound
	err := json.Unmarshal(data, &m)
	return m, err
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newError(msg string) errorMessage {
	return errorMessage{Type: TypeError, Message: msg}
}

type progressMessage struct {
	Type string                `json:"type"`
	Data ffmpeg.ProgressUpdate `json:"data"`
}

func newProgress(u ffmpeg.ProgressUpdate) progressMessage {
	return progressMessage{Type: TypeProgressUpdate, Data: u}
}

type finishedMessage struct {
	Type string `json:"type"`
}

func newFinished() finishedMessage {
	return finishedMessage{Type: TypeJobFinished}
}
