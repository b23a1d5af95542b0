package remote

import "fmt"

// CommandError reports a remote command that exited non-zero. Output holds the
// raw combined output so callers can surface it unchanged.
type CommandError struct {
	Host       string
	Command    string
	ExitStatus int
	Output     string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: command %q exited with status %d", e.Host, e.Command, e.ExitStatus)
	if e.Output != "" {
		msg += ":\n" + e.Output
	}
	return msg
}

// TransferError reports a failed upload or append.
type TransferError struct {
	Host string
	Op   string // "upload" | "append"
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Host, e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
