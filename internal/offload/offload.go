// Package offload keeps large payloads out of the model's context window.
//
// Two independent scanners run over every tool result before it re-enters
// the conversation: an image extractor that pulls inline base64 image data
// out of text, and a large-field offloader that pulls any oversized string
// field out of a tool result's JSON tree. Both replace the original value
// with an opaque reference token and register the real payload in a
// per-run store, so a human client still sees the full content (via a side
// event) while the model only ever sees a pointer.
//
// Reference tokens look like {{DATA_REF:<id>}} and {{IMAGE_REF:<id>}}.
// When the model later asks to act on offloaded content ("write the page I
// scraped to disk"), Resolve substitutes the preserved payload back into
// the tool call arguments before execution.
//
// The store lives exactly as long as one orchestration run. Nothing here is
// persisted: reference tokens are meaningless across process restarts or
// client reconnects, which is a documented limitation.
package offload

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultLargeFieldThreshold is the string length above which a tool result
// field is offloaded. Large enough that ordinary scraped pages stay inline,
// small enough to cap worst-case context growth per field.
const DefaultLargeFieldThreshold = 8192

// Kind distinguishes preserved payload types.
type Kind string

const (
	KindData  Kind = "data"
	KindImage Kind = "image"
)

// Entry is one preserved payload.
type Entry struct {
	ID      string
	Kind    Kind
	Payload string
	// MIMEType is set for images (e.g. "image/png").
	MIMEType string
	// Round is the tool round that produced the payload; 0 for payloads
	// extracted from inbound history at run start.
	Round int
}

// Store holds preserved content for a single orchestration run. It is owned
// by that run's RunContext and discarded with it.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore creates an empty preserved content store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Preserve registers a payload and returns its entry with a fresh id.
func (s *Store) Preserve(kind Kind, payload, mimeType string, round int) *Entry {
	e := &Entry{
		ID:       uuid.NewString(),
		Kind:     kind,
		Payload:  payload,
		MIMEType: mimeType,
		Round:    round,
	}
	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()
	return e
}

// Get returns the entry for id.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of preserved entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// DataRef formats a data reference token.
func DataRef(id string) string { return "{{DATA_REF:" + id + "}}" }

// ImageRef formats an image reference token.
func ImageRef(id string) string { return "{{IMAGE_REF:" + id + "}}" }

var (
	// refPattern matches both token kinds. IDs are uuids.
	refPattern = regexp.MustCompile(`\{\{(DATA_REF|IMAGE_REF):([0-9a-fA-F-]{1,64})\}\}`)

	// dataImagePattern matches inline base64 image data URLs.
	dataImagePattern = regexp.MustCompile(`data:(image/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/]+={0,2})`)
)

// EventType names the out-of-band notifications a scanner emits.
type EventType string

const (
	EventImageGenerated EventType = "image_generated"
	EventDataOffloaded  EventType = "data_offloaded"
)

// Event carries the real payload to the client when content is offloaded,
// so a human still sees the whole thing even though the model gets a pointer.
type Event struct {
	Type     EventType
	RefID    string
	Payload  string
	MIMEType string
	Field    string
	Round    int
}

// EmitFunc receives offload events. It must not block.
type EmitFunc func(Event)

// Scanner applies both offload passes against one run's store.
type Scanner struct {
	store     *Store
	threshold int
	emit      EmitFunc
	logger    *slog.Logger
}

// NewScanner creates a scanner bound to the given store. threshold <= 0
// selects DefaultLargeFieldThreshold; emit may be nil.
func NewScanner(store *Store, threshold int, emit EmitFunc, logger *slog.Logger) *Scanner {
	if threshold <= 0 {
		threshold = DefaultLargeFieldThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Scanner{store: store, threshold: threshold, emit: emit, logger: logger}
}

// Threshold returns the large-field offload threshold in bytes.
func (s *Scanner) Threshold() int { return s.threshold }

// ScrubToolResult runs both scanners over a tool result's JSON text and
// returns the scrubbed text. Non-JSON input is treated as plain text and
// only image-extracted. The operation is idempotent: reference tokens
// produced by an earlier pass are left untouched.
func (s *Scanner) ScrubToolResult(raw string, round int) string {
	var tree any
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return s.ExtractImages(raw, round)
	}
	scrubbed := s.scrubValue(tree, "", round)
	out, err := json.Marshal(scrubbed)
	if err != nil {
		// Marshal of a decoded tree cannot realistically fail; keep the
		// original rather than losing the result.
		return raw
	}
	return string(out)
}

// scrubValue walks a decoded JSON tree, replacing image data and oversized
// string leaves with reference tokens.
func (s *Scanner) scrubValue(v any, field string, round int) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = s.scrubValue(child, k, round)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = s.scrubValue(child, field, round)
		}
		return val
	case string:
		return s.scrubString(val, field, round)
	default:
		return v
	}
}

func (s *Scanner) scrubString(val, field string, round int) string {
	// Already a pure reference token: nothing to do.
	if isReferenceToken(val) {
		return val
	}
	out := s.extractImagesFrom(val, field, round)
	if len(out) > s.threshold {
		e := s.store.Preserve(KindData, out, "", round)
		s.emit(Event{
			Type:    EventDataOffloaded,
			RefID:   e.ID,
			Payload: out,
			Field:   field,
			Round:   round,
		})
		s.logger.Debug("offloaded large field",
			"field", field, "bytes", len(out), "ref", e.ID)
		return DataRef(e.ID)
	}
	return out
}

// ExtractImages replaces inline base64 images in plain text with image
// reference tokens, preserving the raw data and emitting an image event
// for each match.
func (s *Scanner) ExtractImages(text string, round int) string {
	return s.extractImagesFrom(text, "", round)
}

func (s *Scanner) extractImagesFrom(text, field string, round int) string {
	if !strings.Contains(text, ";base64,") {
		return text
	}
	return dataImagePattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := dataImagePattern.FindStringSubmatch(match)
		e := s.store.Preserve(KindImage, match, sub[1], round)
		s.emit(Event{
			Type:     EventImageGenerated,
			RefID:    e.ID,
			Payload:  match,
			MIMEType: sub[1],
			Field:    field,
			Round:    round,
		})
		return ImageRef(e.ID)
	})
}

// Resolve substitutes reference tokens inside tool call arguments with the
// preserved payloads, walking the JSON tree recursively. Unknown ids are
// left as the literal token and returned so the caller can log a warning;
// resolution never fails the call.
func (s *Scanner) Resolve(args json.RawMessage) (json.RawMessage, []string) {
	var tree any
	if err := json.Unmarshal(args, &tree); err != nil {
		// Arguments that are not valid JSON are handled upstream; pass through.
		return args, nil
	}
	var unknown []string
	resolved := s.resolveValue(tree, &unknown)
	out, err := json.Marshal(resolved)
	if err != nil {
		return args, unknown
	}
	for _, id := range unknown {
		s.logger.Warn("unresolvable content reference", "ref", id)
	}
	return out, unknown
}

func (s *Scanner) resolveValue(v any, unknown *[]string) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = s.resolveValue(child, unknown)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = s.resolveValue(child, unknown)
		}
		return val
	case string:
		if !strings.Contains(val, "{{") {
			return val
		}
		return refPattern.ReplaceAllStringFunc(val, func(match string) string {
			sub := refPattern.FindStringSubmatch(match)
			if e, ok := s.store.Get(sub[2]); ok {
				return e.Payload
			}
			*unknown = append(*unknown, sub[2])
			return match
		})
	default:
		return v
	}
}

// isReferenceToken reports whether val is exactly one reference token.
func isReferenceToken(val string) bool {
	m := refPattern.FindString(val)
	return m != "" && m == val
}
