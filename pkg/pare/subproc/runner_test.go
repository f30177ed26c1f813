package subproc

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/memobase/pare/pkg/pare/pareerr"
)

func TestRunCatPassesBytesThrough(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	input := []byte("hello, pare")
	res, err := Run(context.Background(), 5*time.Second, "cat", nil, input, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(res.Stdout) != string(input) {
		t.Errorf("Stdout = %q, want %q", res.Stdout, input)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunAllowedExitCodeIsNotAnError(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	res, err := Run(context.Background(), 5*time.Second, "sh", []string{"-c", "exit 99"}, nil, map[int]struct{}{99: {}})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil (99 is allowed)", err)
	}
	if res.ExitCode != 99 {
		t.Errorf("ExitCode = %d, want 99", res.ExitCode)
	}
}

func TestRunDisallowedExitCodeFails(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	_, err := Run(context.Background(), 5*time.Second, "sh", []string{"-c", "exit 7"}, nil, nil)
	if err == nil {
		t.Fatal("expected error for unexpected non-zero exit code")
	}
	pe, ok := pareerr.As(err)
	if !ok || pe.Kind != pareerr.KindOptimizationFailed {
		t.Errorf("error kind = %v, want OptimizationFailed", err)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	start := time.Now()
	_, err := Run(context.Background(), 50*time.Millisecond, "sh", []string{"-c", "sleep 5"}, nil, nil)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected ToolTimeout error")
	}
	pe, ok := pareerr.As(err)
	if !ok || pe.Kind != pareerr.KindToolTimeout {
		t.Errorf("error kind = %v, want ToolTimeout", err)
	}
	if elapsed > 1050*time.Millisecond {
		t.Errorf("Run() took %v, want < timeout+1s", elapsed)
	}
}

func TestRunOptionalMissingBinarySkipsSilently(t *testing.T) {
	res, err := RunOptional(context.Background(), time.Second, "definitely-not-a-real-binary-xyz", nil, nil, nil)
	if err != nil {
		t.Fatalf("RunOptional() error = %v, want nil", err)
	}
	if res != nil {
		t.Errorf("RunOptional() result = %v, want nil", res)
	}
}
