package recognition

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/MrWong99/hark/pkg/audio"
)

// ErrorKind classifies recognizer failures.
type ErrorKind int

const (
	ErrorAudio ErrorKind = iota
	ErrorNetwork
	ErrorNetworkTimeout
	ErrorNoMatch
	ErrorClient
	ErrorBusy
	ErrorServer
	ErrorSpeechTimeout
	ErrorInsufficientPermissions
)

var errorKindNames = [...]string{
	ErrorAudio:                   "audio",
	ErrorNetwork:                 "network",
	ErrorNetworkTimeout:          "network-timeout",
	ErrorNoMatch:                 "no-match",
	ErrorClient:                  "client",
	ErrorBusy:                    "busy",
	ErrorServer:                  "server",
	ErrorSpeechTimeout:           "speech-timeout",
	ErrorInsufficientPermissions: "insufficient-permissions",
}

var errorKindDescriptions = [...]string{
	ErrorAudio:                   "Audio recording error",
	ErrorNetwork:                 "Network error",
	ErrorNetworkTimeout:          "Network timeout",
	ErrorNoMatch:                 "No match",
	ErrorClient:                  "Client side error",
	ErrorBusy:                    "RecognitionService busy",
	ErrorServer:                  "Error from server",
	ErrorSpeechTimeout:           "No speech input",
	ErrorInsufficientPermissions: "Insufficient permissions",
}

// String returns the stable identifier, e.g. "network-timeout".
func (k ErrorKind) String() string {
	if k >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return "unknown"
}

// Description returns the human-readable text used in logs.
func (k ErrorKind) Description() string {
	if k >= 0 && int(k) < len(errorKindDescriptions) {
		return errorKindDescriptions[k]
	}
	return "Unknown error"
}

// Error is a classified recognizer failure.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return "recognition: " + e.Kind.Description()
	}
	return fmt.Sprintf("recognition: %s: %v", e.Kind.Description(), e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Sentinel causes produced by this package.
var (
	ErrBusy          = errors.New("recognition: recognizer busy")
	ErrNoMatch       = errors.New("recognition: no transcript recognized")
	ErrSpeechTimeout = errors.New("recognition: no speech detected")
	ErrSessionUsed   = errors.New("recognition: session already started")
	ErrStreamLost    = errors.New("recognition: recognizer stream ended without a terminal outcome")
)

// Classify maps an arbitrary error onto the recognizer taxonomy. Unknown
// errors are client errors.
func Classify(err error) ErrorKind {
	var re *Error
	var netErr net.Error
	switch {
	case err == nil:
		return ErrorClient
	case errors.As(err, &re):
		return re.Kind
	case errors.Is(err, ErrBusy), errors.Is(err, audio.ErrBusy):
		return ErrorBusy
	case errors.Is(err, ErrNoMatch):
		return ErrorNoMatch
	case errors.Is(err, ErrSpeechTimeout):
		return ErrorSpeechTimeout
	case errors.Is(err, os.ErrPermission):
		return ErrorInsufficientPermissions
	case errors.Is(err, audio.ErrNoDevice):
		return ErrorAudio
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorNetworkTimeout
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ErrorNetworkTimeout
		}
		return ErrorNetwork
	default:
		return ErrorClient
	}
}

// classifyRemote is Classify for failures of a remote recognizer, where an
// unclassified error means the service rejected the request.
func classifyRemote(err error) ErrorKind {
	if k := Classify(err); k != ErrorClient {
		return k
	}
	return ErrorServer
}
