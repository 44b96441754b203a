package models

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

type (
	Config struct {
		// Paths
		PluginDirs     []string `toml:"PluginDirs"`
		DatabasePath   string   `toml:"DatabasePath"`
		PreviewPath    string   `toml:"PreviewPath"`
		BleveIndexPath string   `toml:"BleveIndexPath"`

		// Capture behavior
		Concurrency     int `toml:"Concurrency"`
		MaxWidth        int `toml:"MaxWidth"`
		CeilingSec      int `toml:"CeilingSec"`
		ArtifactVersion int `toml:"ArtifactVersion"`

		// Other
		NoProgress bool `toml:"NoProgress"`
	}

	// ComponentDescriptor identifies one component the way the host registry
	// does: three 32-bit codes, type/subtype/manufacturer.
	ComponentDescriptor struct {
		Type         uint32 `json:"type"`
		Subtype      uint32 `json:"subtype"`
		Manufacturer uint32 `json:"manufacturer"`
	}

	// CandidateItem is one enumerated component eligible for a capture attempt.
	// Recomputed every session from the plugin directories; FirstSeen survives
	// across sessions via the store upsert.
	CandidateItem struct {
		Key        string              `json:"key"`
		Name       string              `json:"name"`
		Version    string              `json:"version"`
		BundlePath string              `json:"bundlePath"`
		Descriptor ComponentDescriptor `json:"descriptor"`
		FirstSeen  int64               `json:"firstSeen"` // unix seconds
	}

	// AttemptRecord is one row of the append-only capture log. Rows are never
	// updated or deleted (short of the item itself being removed); an item
	// accumulates one row per attempt across sessions.
	AttemptRecord struct {
		ID         string        `json:"id"`
		ItemKey    string        `json:"itemKey"`
		SessionID  string        `json:"sessionId"`
		Status     AttemptStatus `json:"status"`
		Reason     FailureReason `json:"reason,omitempty"`
		DurationMs int64         `json:"durationMs"`
		Timestamp  int64         `json:"timestamp"` // unix seconds
	}

	// Artifact is the durable output of a successful capture. At most one row
	// per item key; replaced wholesale on each success.
	Artifact struct {
		ItemKey    string `json:"itemKey"`
		Path       string `json:"path"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		Checksum   string `json:"checksum,omitempty"` // blake3 hex of the file
		CapturedAt int64  `json:"capturedAt"`
		Version    int    `json:"version"`
	}
)

// AttemptStatus classifies how an attempt resolved.
type AttemptStatus string

const (
	StatusSuccess AttemptStatus = "success"
	StatusTimeout AttemptStatus = "timeout"
	StatusFailed  AttemptStatus = "failed"
	StatusSkipped AttemptStatus = "skipped"
)

// FailureReason is the closed taxonomy of non-success outcomes.
type FailureReason string

const (
	ReasonNotFound             FailureReason = "not_found"
	ReasonInstantiationTimeout FailureReason = "instantiation_timeout"
	ReasonInstantiationFailed  FailureReason = "instantiation_failed"
	ReasonViewTimeout          FailureReason = "view_timeout"
	ReasonNoView               FailureReason = "no_view"
	ReasonCaptureFailed        FailureReason = "capture_failed" // covers zero-size and bitmap failures
	ReasonEncodeFailed         FailureReason = "encode_failed"
	ReasonWriteFailed          FailureReason = "write_failed"
	ReasonHang                 FailureReason = "hang"  // supervisor ceiling hit
	ReasonCrash                FailureReason = "crash" // no recognizable token or exit code
	ReasonSkipped              FailureReason = "skipped"
)

// CurrentArtifactVersion is bumped deliberately to force a global re-capture:
// any stored artifact with a lower version is due again.
const CurrentArtifactVersion = 2

// Worker process exit codes. The supervisor treats these as the authoritative
// classification fallback when no stderr token was recognized.
const (
	ExitSuccess              = 0
	ExitBadArgs              = 1
	ExitNotFound             = 2
	ExitInstantiationTimeout = 3
	ExitInstantiationFailed  = 4
	ExitRenderTimeout        = 5
	ExitNoView               = 6
	ExitCaptureFailed        = 7
	ExitEncodeFailed         = 8
	ExitWriteFailed          = 9
)

// Worker stderr failure tokens. Token parsing is a best-effort enrichment on
// top of the exit code; the two channels are redundant so a worker that dies
// before flushing stderr is still classifiable.
const (
	TokenInstantiationTimeout = "TIMEOUT:instantiation"
	TokenInstantiationFailed  = "FAILED:instantiation"
	TokenRenderTimeout        = "TIMEOUT:gui_render"
	TokenNoView               = "FAILED:no_view"
	TokenZeroSize             = "FAILED:zero_size"
	TokenBitmap               = "FAILED:bitmap"
	TokenJpegEncoding         = "FAILED:jpeg_encoding"
	TokenWritePrefix          = "FAILED:write:"
)

// ReasonForToken maps a worker stderr token to its persisted failure reason.
func ReasonForToken(token string) (FailureReason, bool) {
	switch token {
	case TokenInstantiationTimeout:
		return ReasonInstantiationTimeout, true
	case TokenInstantiationFailed:
		return ReasonInstantiationFailed, true
	case TokenRenderTimeout:
		return ReasonViewTimeout, true
	case TokenNoView:
		return ReasonNoView, true
	case TokenZeroSize, TokenBitmap:
		return ReasonCaptureFailed, true
	case TokenJpegEncoding:
		return ReasonEncodeFailed, true
	}
	if strings.HasPrefix(token, TokenWritePrefix) {
		return ReasonWriteFailed, true
	}
	return "", false
}

// ReasonForExitCode maps a worker exit code to its persisted failure reason.
// Exit 0 is success and exit 1 is an argv contract violation; neither maps to
// a failure reason here.
func ReasonForExitCode(code int) (FailureReason, bool) {
	switch code {
	case ExitNotFound:
		return ReasonNotFound, true
	case ExitInstantiationTimeout:
		return ReasonInstantiationTimeout, true
	case ExitInstantiationFailed:
		return ReasonInstantiationFailed, true
	case ExitRenderTimeout:
		return ReasonViewTimeout, true
	case ExitNoView:
		return ReasonNoView, true
	case ExitCaptureFailed:
		return ReasonCaptureFailed, true
	case ExitEncodeFailed:
		return ReasonEncodeFailed, true
	case ExitWriteFailed:
		return ReasonWriteFailed, true
	}
	return "", false
}

// Namespace renders the descriptor's type code for use in item keys, e.g.
// "aufx". Non-printable codes fall back to their hex form.
func (d ComponentDescriptor) Namespace() string {
	return FourCC(d.Type)
}

// Key derives the stable item key, format "<namespace>_<8-hex-digit code>".
// The code is the first four bytes of the blake3 hash over all three identity
// codes, so two components sharing a subtype but not a manufacturer still get
// distinct keys.
func (d ComponentDescriptor) Key() string {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], d.Type)
	binary.BigEndian.PutUint32(buf[4:8], d.Subtype)
	binary.BigEndian.PutUint32(buf[8:12], d.Manufacturer)
	sum := blake3.Sum256(buf[:])
	return fmt.Sprintf("%s_%08x", d.Namespace(), binary.BigEndian.Uint32(sum[:4]))
}

func (d ComponentDescriptor) String() string {
	return fmt.Sprintf("%s/%s/%s", FourCC(d.Type), FourCC(d.Subtype), FourCC(d.Manufacturer))
}

// FourCC renders a 32-bit code as its four-character form when all four bytes
// are printable ASCII, otherwise as eight hex digits.
func FourCC(code uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], code)
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("%08x", code)
		}
	}
	return strings.ToLower(strings.TrimSpace(string(b[:])))
}

// ParseCode parses a component identity code from a manifest or argv value.
// Accepts a decimal or 0x-prefixed number, or a four-character code ("aufx").
func ParseCode(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty component code")
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return uint32(n), nil
	}
	if len(s) == 4 {
		return binary.BigEndian.Uint32([]byte(s)), nil
	}
	return 0, fmt.Errorf("invalid component code %q: not a number or four-character code", s)
}
