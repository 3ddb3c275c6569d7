// Package hooks answers the host runtime's lifecycle signals.
//
// The host runs one hook per signal and hands it a JSON payload on stdin.
// Whatever a hook writes to its output is returned to the host verbatim, so
// diagnostics go to the logger only. A hook never reports failure: a broken
// blackboard must not break the host's own flow.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dyluth/chalk/internal/aggregator"
	"github.com/dyluth/chalk/internal/instance"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/rs/zerolog"
)

// Hook names as used on the command line.
const (
	SessionStart = "session-start"
	PreCompact   = "pre-compact"
	PostCompact  = "post-compact"
)

// Names lists every supported hook.
var Names = []string{SessionStart, PreCompact, PostCompact}

// maxPayloadBytes bounds how much of stdin a hook reads.
const maxPayloadBytes = 1 << 20

// Payload is the JSON object the host sends.
type Payload struct {
	SessionID string `json:"session_id"`
	ContextID string `json:"context_id,omitempty"`
	Trigger   string `json:"trigger,omitempty"` // "manual" or "auto" for compaction
}

// Sessions is the session control the hooks need.
type Sessions interface {
	Start(ctx context.Context, name string) (*blackboard.SessionRecord, error)
	Session() string
}

// Summarizer produces the compaction report and stores its manifest.
type Summarizer interface {
	SummarizeWithManifest(ctx context.Context, contextID string) (*aggregator.Result, error)
}

// Handler runs hooks against one board.
type Handler struct {
	sessions   Sessions
	summarizer Summarizer
	log        zerolog.Logger
}

// New creates a handler.
func New(sessions Sessions, summarizer Summarizer, log zerolog.Logger) *Handler {
	return &Handler{sessions: sessions, summarizer: summarizer, log: log}
}

// Run executes the named hook, reading the payload from in and writing any
// host-facing text to out. Errors and panics are logged and swallowed.
func (h *Handler) Run(ctx context.Context, name string, in io.Reader, out io.Writer) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Str("hook", name).Interface("panic", r).Msg("Hook panicked")
		}
	}()

	p := h.readPayload(in)
	var err error
	switch name {
	case SessionStart:
		err = h.sessionStart(ctx, p, out)
	case PreCompact:
		err = h.preCompact(ctx, p, out)
	case PostCompact:
		h.log.Info().Str("session_id", p.SessionID).Str("trigger", p.Trigger).Msg("Compaction completed")
	default:
		err = fmt.Errorf("unknown hook %q", name)
	}
	if err != nil {
		h.log.Warn().Err(err).Str("hook", name).Msg("Hook failed")
	}
}

// readPayload decodes the payload. A missing or malformed payload yields the
// zero value so every hook still runs.
func (h *Handler) readPayload(in io.Reader) Payload {
	var p Payload
	if in == nil {
		return p
	}
	data, err := io.ReadAll(io.LimitReader(in, maxPayloadBytes))
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read hook payload")
		return p
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return p
	}
	if err := json.Unmarshal(data, &p); err != nil {
		h.log.Warn().Err(err).Msg("Ignoring malformed hook payload")
		return Payload{}
	}
	return p
}

func (h *Handler) sessionStart(ctx context.Context, p Payload, out io.Writer) error {
	rec, err := h.sessions.Start(ctx, SessionName(p.SessionID))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Blackboard session `%s` is active.\n", rec.ID)
	return err
}

func (h *Handler) preCompact(ctx context.Context, p Payload, out io.Writer) error {
	res, err := h.summarizer.SummarizeWithManifest(ctx, p.ContextID)
	if res == nil {
		return err
	}
	if err != nil {
		// The report is still usable; only the manifest is missing.
		h.log.Warn().Err(err).Msg("Manifest not stored")
	}

	var b strings.Builder
	b.WriteString(res.Markdown)
	if res.Manifest != nil {
		fmt.Fprintf(&b, "\n\nCompaction manifest: `%s` (%d findings, %d tasks). Hydrate with `chalk context hydrate %s`.\n",
			blackboard.ManifestPath(res.Manifest.ContextID), res.Manifest.Stats.Findings, res.Manifest.Stats.Tasks, res.Manifest.ContextID)
	}
	_, werr := io.WriteString(out, b.String())
	return werr
}

// SessionName maps a host session id onto a valid session name. An empty
// result asks the session manager to generate one.
func SessionName(hostID string) string {
	return instance.SanitizeName(hostID)
}
