package delegated

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/mike-north/vaultkeeper-sub000/internal/redact"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// ExecRequest describes a child process to spawn. Args and Env values may
// contain the {{secret}} placeholder.
type ExecRequest struct {
	Command string
	Args    []string
	Env     map[string]string
}

// ExecResult is the fully-drained outcome of a delegated exec. Stdout and
// Stderr have the secret value redacted even though it was present in the
// ambient environment handed to the child.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec spawns req.Command with req.Args and req.Env (substituted and
// merged over the ambient environment), waits for it to exit, and
// returns its fully-drained, redacted output. A failure to start the
// process surfaces ExecFailed; a non-zero exit after a successful start
// is reported via ExitCode, not an error.
func Exec(ctx context.Context, req ExecRequest, secretVal string) (ExecResult, error) {
	args := make([]string, len(req.Args))
	for i, a := range req.Args {
		args[i] = Substitute(a, secretVal)
	}
	env := SubstituteMap(req.Env, secretVal)

	cmd := exec.CommandContext(ctx, req.Command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutRedactor := redact.NewWriter(&stdoutBuf, []byte(secretVal), "")
	stderrRedactor := redact.NewWriter(&stderrBuf, []byte(secretVal), "")
	cmd.Stdout = stdoutRedactor
	cmd.Stderr = stderrRedactor

	if err := cmd.Start(); err != nil {
		return ExecResult{}, &vaulterrors.ExecFailed{Command: req.Command, Err: err}
	}

	waitErr := cmd.Wait()
	_ = stdoutRedactor.Close()
	_ = stderrRedactor.Close()

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, &vaulterrors.ExecFailed{Command: req.Command, Err: waitErr}
		}
	}

	return ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
	}, nil
}
