package types

// CommandID uniquely identifies one submitted long-running command
// invocation, scoped to the node that queued it.
type CommandID string

// LongRunningCommandStatus is one entry of the longRunningCommandStatus
// attribute: a (command id, status) pair. The attribute itself is the
// sequence of these published over the node's lifetime.
type LongRunningCommandStatus struct {
	CommandID CommandID     `json:"command_id"`
	Status    CommandStatus `json:"status"`
}

// LongRunningCommandResult is the longRunningCommandResult attribute
// payload: a (command id, result) pair.
type LongRunningCommandResult struct {
	CommandID CommandID  `json:"command_id"`
	Result    CommandRes `json:"result"`
}

// CommandRes is the (result_code, message) pair carried by both fast and
// long-running command returns.
type CommandRes struct {
	Code    ResultCode `json:"result_code"`
	Message string     `json:"message"`
}

func OK(msg string) CommandRes         { return CommandRes{Code: ResultOK, Message: msg} }
func Failed(msg string) CommandRes     { return CommandRes{Code: ResultFailed, Message: msg} }
func Rejected(msg string) CommandRes   { return CommandRes{Code: ResultRejected, Message: msg} }
func NotAllowed(msg string) CommandRes { return CommandRes{Code: ResultNotAllowed, Message: msg} }
func Queued(msg string) CommandRes     { return CommandRes{Code: ResultQueued, Message: msg} }
