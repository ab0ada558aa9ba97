// Package logging hosts the optional embedded Logdy web UI that the review
// pipeline tees its zerolog stream into.
package logging

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/config"

	"github.com/logdyhq/logdy-core/logdy"
)

// logdyWriter forwards log output line by line so each pipeline event
// renders as its own row in the UI
type logdyWriter struct {
	sink func(string)
}

func (w *logdyWriter) Write(p []byte) (n int, err error) {
	for _, line := range splitLogLines(p) {
		w.sink(line)
	}
	return len(p), nil
}

func splitLogLines(p []byte) []string {
	trimmed := strings.TrimRight(string(p), "\n")
	if trimmed == "" {
		return nil
	}

	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// StartLogdy starts the embedded Logdy web UI and returns a writer to tee
// the reviewer's logs into, plus the UI URL
func StartLogdy(cfg *config.Config) (io.Writer, string, error) {
	portStr := strconv.Itoa(cfg.LogdyPort)
	ld := logdy.InitializeLogdy(logdy.Config{
		ServerIp:   cfg.LogdyHost,
		ServerPort: portStr,
	}, nil)

	url := fmt.Sprintf("http://%s:%s", cfg.LogdyHost, portStr)
	log.Info().
		Str("url", url).
		Str("worker_id", cfg.WorkerID).
		Msg("Logdy UI for review pipeline logs available")

	return &logdyWriter{sink: func(line string) { ld.LogString(line) }}, url, nil
}
