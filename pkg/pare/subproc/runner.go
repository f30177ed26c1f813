// Package subproc implements the byte-in/byte-out subprocess contract
// (§4.B): invoke a named external binary, feed a payload on stdin,
// collect stdout/stderr, enforce a per-call timeout, and tolerate a
// per-tool allow-list of non-error exit codes.
//
// Grounded on je4-indexer's actionClamav.go/actionIdentifyV2.go
// (exec.CommandContext + context.WithTimeout) generalized to pipe
// stdin from a byte buffer per
// original_source/utils/subprocess_runner.py's run_tool contract, with
// the write-concurrently-with-drain rule from spec.md §9 implemented
// via golang.org/x/sync/errgroup.
package subproc

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"time"

	"emperror.dev/errors"
	"golang.org/x/sync/errgroup"

	iou "github.com/je4/utils/v2/pkg/io"

	"github.com/memobase/pare/pkg/pare/pareerr"
)

const maxCapturedStderr = 64 * 1024

// limitWriter caps the number of bytes written to the underlying
// writer, silently discarding anything beyond the limit (io has no
// writer analog to io.LimitReader).
type limitWriter struct {
	w io.Writer
	n int64
}

func newLimitWriter(w io.Writer, n int64) *limitWriter {
	return &limitWriter{w: w, n: n}
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > l.n {
		if _, err := l.w.Write(p[:l.n]); err != nil {
			return 0, err
		}
		written := len(p)
		l.n = 0
		return written, nil
	}
	n, err := l.w.Write(p)
	l.n -= int64(n)
	return n, err
}

// Result carries a completed subprocess invocation's output.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run invokes name with args, piping input on stdin and returning
// stdout/stderr/exit-code. exitCodes not present in allowedExitCodes
// (besides 0) fail with OptimizationFailed; a timeout kills the
// process and fails with ToolTimeout. Never writes a temp file:
// input flows entirely through the pipe.
func Run(ctx context.Context, timeout time.Duration, name string, args []string, input []byte, allowedExitCodes map[int]struct{}) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, errors.Wrapf(err, "cannot open stdin pipe for %s", name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, errors.Wrapf(err, "cannot open stdout pipe for %s", name)
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = newLimitWriter(&stderrBuf, maxCapturedStderr)

	if err := cmd.Start(); err != nil {
		return Result{}, errors.Wrapf(err, "cannot start %s", name)
	}

	// CommandContext kills the direct child when ctx ends, but a
	// grandchild that inherited stdout can keep the pipe open; closing
	// the read end unblocks the drain so the timeout is reported on time.
	stopClose := context.AfterFunc(ctx, func() { _ = stdout.Close() })
	defer stopClose()

	var stdoutBuf bytes.Buffer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stdin.Close()
		w := iou.NewWriteIgnoreCloser(stdin)
		_, err := io.Copy(w, bytes.NewReader(input))
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stdoutBuf, stdout)
		return err
	})

	pipeErr := g.Wait()
	waitErr := cmd.Wait()

	if gctx.Err() == context.DeadlineExceeded || ctx.Err() == context.DeadlineExceeded {
		_ = cmd.Process.Kill()
		return Result{}, pareerr.ToolTimeout(name, ctx.Err())
	}
	if ctx.Err() == context.Canceled {
		return Result{}, pareerr.Cancelled(ctx.Err())
	}
	if pipeErr != nil {
		return Result{}, errors.Wrapf(pipeErr, "pipe error running %s", name)
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, errors.Wrapf(waitErr, "cannot run %s", name)
		}
	}

	if exitCode != 0 {
		if _, ok := allowedExitCodes[exitCode]; !ok {
			return Result{}, pareerr.OptimizationFailed(
				name+" failed with exit code "+itoa(exitCode),
				errors.New(stderrBuf.String()),
			)
		}
	}

	return Result{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		ExitCode: exitCode,
	}, nil
}

// RunOptional behaves like Run but treats "binary not found" as a
// silent skip (nil, nil) rather than an error, matching §6's rule that
// absence of any encoder must not crash the service.
func RunOptional(ctx context.Context, timeout time.Duration, name string, args []string, input []byte, allowedExitCodes map[int]struct{}) (*Result, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, nil
	}
	res, err := Run(ctx, timeout, name, args, input, allowedExitCodes)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
