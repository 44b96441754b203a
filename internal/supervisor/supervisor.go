// Package supervisor runs exactly one capture-worker process per attempt and
// guarantees exactly one outcome, even when the worker hangs, crashes before
// emitting anything, or has to be killed at the wall-clock ceiling.
package supervisor

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/coolmanlume/aubrowser/internal/models"

	log "github.com/sirupsen/logrus"
)

// Outcome is the single terminal result of one supervised attempt.
type Outcome struct {
	Status   models.AttemptStatus // success, timeout, or failed
	Reason   models.FailureReason // empty on success; hang on timeout
	Width    int
	Height   int
	Duration time.Duration
	Detail   string // first stderr line, for logging only
}

// Supervisor spawns capture-worker processes. The zero value is not usable;
// construct with New.
type Supervisor struct {
	// WorkerPath is the binary to execute; defaults to the current
	// executable, which re-enters through the capture-worker subcommand.
	WorkerPath string

	// ArgsPrefix precedes the positional worker argv. Production uses
	// {"capture-worker"}; tests point it at a helper process.
	ArgsPrefix []string

	// ConfigPath, when set, is forwarded so the worker resolves the same
	// plugin directories.
	ConfigPath string

	// Env entries appended to the inherited environment.
	Env []string
}

// New returns a Supervisor that re-executes the current binary.
func New(configPath string) (*Supervisor, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own executable: %w", err)
	}
	return &Supervisor{
		WorkerPath: self,
		ArgsPrefix: []string{"capture-worker"},
		ConfigPath: configPath,
	}, nil
}

// Run executes one worker for the descriptor and resolves to exactly one
// outcome. Two independent completion sources race: the process-exit wait and
// the deadline timer. Whichever fires first wins; the loser is a no-op. On
// timeout the worker's process group is forcibly killed and reaped in the
// background, so no orphan survives past the ceiling.
func (s *Supervisor) Run(desc models.ComponentDescriptor, outputPath string, maxWidth int, ceiling time.Duration) Outcome {
	args := append([]string{}, s.ArgsPrefix...)
	args = append(args,
		strconv.FormatUint(uint64(desc.Type), 10),
		strconv.FormatUint(uint64(desc.Subtype), 10),
		strconv.FormatUint(uint64(desc.Manufacturer), 10),
		outputPath,
		strconv.Itoa(maxWidth),
	)
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}

	cmd := exec.Command(s.WorkerPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	configureWorkerProcess(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		// Spawn failure: the attempt never ran.
		log.WithError(err).Errorf("Failed to spawn capture worker for %s", desc)
		return Outcome{Status: models.StatusFailed, Reason: models.ReasonCrash, Duration: 0}
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		return s.classify(desc, err, stdout.String(), stderr.String(), time.Since(start))
	case <-timer.C:
		terminateWorkerProcess(cmd)
		// Reap asynchronously; the kill above makes Wait return promptly.
		go func() { <-waitCh }()
		log.Warnf("Capture worker for %s hit the %s ceiling, killed", desc, ceiling)
		return Outcome{Status: models.StatusTimeout, Reason: models.ReasonHang, Duration: ceiling}
	}
}

// classify resolves a finished process. Stderr tokens are parsed first; the
// exit code is the authoritative fallback; anything unrecognizable is a crash.
func (s *Supervisor) classify(desc models.ComponentDescriptor, waitErr error, stdout, stderr string, dur time.Duration) Outcome {
	detail := firstLine(stderr)

	if reason, ok := scanTokens(stderr); ok {
		log.Debugf("Worker for %s failed: %s (%s)", desc, reason, detail)
		return Outcome{Status: models.StatusFailed, Reason: reason, Duration: dur, Detail: detail}
	}

	if waitErr == nil {
		w, h, err := parseDimensions(stdout)
		if err != nil {
			// Exit 0 with malformed output is still an untrusted result.
			log.Warnf("Worker for %s exited clean with malformed output %q", desc, firstLine(stdout))
			return Outcome{Status: models.StatusFailed, Reason: models.ReasonCrash, Duration: dur, Detail: detail}
		}
		return Outcome{Status: models.StatusSuccess, Width: w, Height: h, Duration: dur}
	}

	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if reason, ok := models.ReasonForExitCode(exitErr.ExitCode()); ok {
			log.Debugf("Worker for %s exited %d: %s", desc, exitErr.ExitCode(), reason)
			return Outcome{Status: models.StatusFailed, Reason: reason, Duration: dur, Detail: detail}
		}
	}

	log.Warnf("Worker for %s died without a recognizable token or exit code: %v", desc, waitErr)
	return Outcome{Status: models.StatusFailed, Reason: models.ReasonCrash, Duration: dur, Detail: detail}
}

// scanTokens looks for a known failure token anywhere on the worker's stderr.
func scanTokens(stderr string) (models.FailureReason, bool) {
	for _, line := range strings.Split(stderr, "\n") {
		if reason, ok := models.ReasonForToken(strings.TrimSpace(line)); ok {
			return reason, true
		}
	}
	return "", false
}

// parseDimensions parses the worker's success report, "{width}x{height}".
func parseDimensions(stdout string) (int, int, error) {
	line := firstLine(stdout)
	parts := strings.SplitN(line, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed dimensions %q", line)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed width in %q", line)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed height in %q", line)
	}
	if w < 1 || h < 1 {
		return 0, 0, fmt.Errorf("non-positive dimensions %q", line)
	}
	return w, h, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
