package protocol

import "time"

// MessageType identifies the kind of a protocol message.
type MessageType string

// Supervisor -> worker message types.
const (
	MsgAssign   MessageType = "ASSIGN"
	MsgAbort    MessageType = "ABORT"
	MsgShutdown MessageType = "SHUTDOWN"
)

// Worker -> supervisor message types.
const (
	MsgHello     MessageType = "HELLO"
	MsgHeartbeat MessageType = "HEARTBEAT"
	MsgChat      MessageType = "CHAT"
	MsgMetrics   MessageType = "METRICS"
	MsgDone      MessageType = "DONE"
	MsgError     MessageType = "ERROR"
	MsgLog       MessageType = "LOG"
)

// Message is the envelope exchanged over the supervisor socket as
// line-delimited JSON. Exactly one payload pointer is set, matching Type.
type Message struct {
	Type      MessageType       `json:"type"`
	Assign    *AssignPayload    `json:"assign,omitempty"`
	Abort     *AbortPayload     `json:"abort,omitempty"`
	Hello     *HelloPayload     `json:"hello,omitempty"`
	Heartbeat *HeartbeatPayload `json:"heartbeat,omitempty"`
	Chat      *ChatPayload      `json:"chat,omitempty"`
	Metrics   *MetricsPayload   `json:"metrics,omitempty"`
	Done      *DonePayload      `json:"done,omitempty"`
	Error     *ErrorPayload     `json:"error,omitempty"`
	Log       *LogPayload       `json:"log,omitempty"`
}

// AssignPayload hands a task to a worker.
type AssignPayload struct {
	Task Task `json:"task"`
}

// AbortPayload orders a worker to stop its current task immediately.
type AbortPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// HelloPayload is the first message a worker sends after connecting.
type HelloPayload struct {
	WorkerID string     `json:"worker_id"`
	PID      int        `json:"pid"`
	Kinds    []TaskKind `json:"kinds"` // task kinds this worker accepts
}

// HeartbeatPayload signals worker liveness.
type HeartbeatPayload struct {
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id,omitempty"`
}

// ChatPayload carries an agent chat message destined for the owner.
type ChatPayload struct {
	WorkerID  string `json:"worker_id"`
	TaskID    string `json:"task_id"`
	ChannelID int64  `json:"channel_id"`
	Text      string `json:"text"`
	Markdown  bool   `json:"markdown,omitempty"`
}

// MetricsPayload reports per-task LLM usage for budget accounting.
type MetricsPayload struct {
	WorkerID     string  `json:"worker_id"`
	TaskID       string  `json:"task_id"`
	Model        string  `json:"model,omitempty"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// DonePayload reports successful task completion.
type DonePayload struct {
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id"`
	Result   string `json:"result,omitempty"`
}

// ErrorPayload reports task failure with a human-readable reason.
type ErrorPayload struct {
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id"`
	Reason   string `json:"reason"`
}

// LogPayload carries a structured worker log line for the durable event log.
type LogPayload struct {
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id,omitempty"`
	Level    string `json:"level"` // info | warning | error
	Text     string `json:"text"`
}

// WorkerID extracts the sending worker's ID from any worker-originated
// message, or "" for supervisor-originated types.
func (m Message) WorkerID() string {
	switch {
	case m.Hello != nil:
		return m.Hello.WorkerID
	case m.Heartbeat != nil:
		return m.Heartbeat.WorkerID
	case m.Chat != nil:
		return m.Chat.WorkerID
	case m.Metrics != nil:
		return m.Metrics.WorkerID
	case m.Done != nil:
		return m.Done.WorkerID
	case m.Error != nil:
		return m.Error.WorkerID
	case m.Log != nil:
		return m.Log.WorkerID
	default:
		return ""
	}
}

// Event is the supervisor-side record of a drained worker message: the
// message plus the time the bus accepted it. Events are immutable and
// consumed exactly once by the supervisor loop.
type Event struct {
	Msg  Message   `json:"msg"`
	Time time.Time `json:"time"`
}
