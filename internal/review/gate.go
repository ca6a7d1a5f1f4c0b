// Package review holds the scan session a single operator works through:
// an image is submitted, recognized and extracted into a draft, and the draft
// is edited, confirmed or cancelled.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zombor/expense-tracker/internal/extract"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// State is the phase of the scan session
type State int

const (
	Idle State = iota
	Scanning
	Reviewing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Reviewing:
		return "reviewing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrImageTypeRejected = errors.New("file is not an image")
	ErrScanInProgress    = errors.New("a scan is already in progress")
	ErrReviewPending     = errors.New("a scanned draft is awaiting review")
	ErrNoDraft           = errors.New("no draft to review")
	ErrNoSession         = errors.New("no scan session to cancel")
)

// OCRError is recorded when text recognition fails for a session
type OCRError struct {
	Generation uint64
	Err        error
}

func (e *OCRError) Error() string {
	return fmt.Sprintf("text recognition failed: %v", e.Err)
}

func (e *OCRError) Unwrap() error {
	return e.Err
}

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// DraftEdit changes draft fields. Nil fields are left alone.
type DraftEdit struct {
	Amount   *string `json:"amount,omitempty"`
	Merchant *string `json:"merchant,omitempty"`
	Date     *string `json:"date,omitempty"`
	Category *string `json:"category,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// Snapshot is a point-in-time view of the gate
type Snapshot struct {
	State      State          `json:"state"`
	Generation uint64         `json:"generation"`
	Progress   int            `json:"progress"`
	Draft      *extract.Draft `json:"draft,omitempty"`
	Error      string         `json:"error,omitempty"`
	Err        error          `json:"-"`
}

// session is one submitted image. Its progress outlives the session so late
// callbacks from a cancelled recognizer land somewhere harmless.
type session struct {
	generation uint64
	cancel     context.CancelFunc
	progress   atomic.Int32
}

func (s *session) setProgress(percent int) {
	s.progress.Store(int32(min(max(percent, 0), 100)))
}

// Option configures a Gate
type Option func(*Gate)

// WithLanguage sets the OCR language hint (default "eng")
func WithLanguage(lang string) Option {
	return func(g *Gate) { g.lang = lang }
}

// WithClock sets the time source used for the draft date fallback
func WithClock(c Clock) Option {
	return func(g *Gate) { g.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// Gate serializes the scan session. Only one image is in flight or under
// review at a time. All methods are safe for concurrent use.
type Gate struct {
	recognizer scanning.Recognizer
	lang       string
	clock      Clock
	logger     *slog.Logger
	metrics    *Metrics

	mu         sync.Mutex
	state      State
	generation uint64
	session    *session
	draft      *extract.Draft
	rawText    string
	lastErr    error

	wg sync.WaitGroup
}

// NewGate creates an idle gate backed by recognizer
func NewGate(recognizer scanning.Recognizer, opts ...Option) *Gate {
	g := &Gate{
		recognizer: recognizer,
		lang:       "eng",
		clock:      systemClock{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit starts a scan of image and returns the session generation. The gate
// takes ownership of image.
func (g *Gate) Submit(image []byte, contentType string) (uint64, error) {
	if !scanning.IsImage(contentType) {
		g.metrics.scan(outcomeRejected)
		return 0, fmt.Errorf("%w: %q", ErrImageTypeRejected, contentType)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case Scanning:
		return 0, ErrScanInProgress
	case Reviewing:
		return 0, ErrReviewPending
	}

	g.generation++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{generation: g.generation, cancel: cancel}
	g.session = s
	g.draft = nil
	g.rawText = ""
	g.lastErr = nil
	g.setState(Scanning)

	g.logger.Info("Scan started", "generation", s.generation, "content_type", contentType, "bytes", len(image))

	g.wg.Add(1)
	go g.run(ctx, s, image, contentType)

	return s.generation, nil
}

func (g *Gate) run(ctx context.Context, s *session, image []byte, contentType string) {
	defer g.wg.Done()
	defer s.cancel()

	start := time.Now()
	text, err := g.recognizer.Recognize(ctx, image, contentType, g.lang, s.setProgress)
	g.metrics.observeOCR(time.Since(start))

	var draft extract.Draft
	if err == nil {
		draft = extract.Extract(text, g.clock.Now())
	}

	g.complete(s, text, draft, err)
}

func (g *Gate) complete(s *session, text string, draft extract.Draft, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s.generation != g.generation || g.state != Scanning {
		g.logger.Debug("Dropping stale scan result",
			"generation", s.generation,
			"current_generation", g.generation,
			"state", g.state,
		)
		g.metrics.staleCompletion()
		return
	}

	if err != nil {
		g.logger.Error("Failed to recognize receipt", "generation", s.generation, "error", err)
		g.lastErr = &OCRError{Generation: s.generation, Err: err}
		g.session = nil
		g.metrics.scan(outcomeFailed)
		g.setState(Idle)
		return
	}

	s.setProgress(100)
	g.draft = &draft
	g.rawText = text
	g.metrics.scan(outcomeExtracted)
	g.logger.Info("Scan extracted",
		"generation", s.generation,
		"amount", draft.Amount,
		"merchant", draft.Merchant,
		"date", draft.Date,
	)
	g.setState(Reviewing)
}

// Cancel abandons the current scan or discards the draft under review
func (g *Gate) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case Idle:
		return ErrNoSession
	case Scanning:
		g.session.cancel()
		g.metrics.scan(outcomeCancelled)
	case Reviewing:
		g.metrics.scan(outcomeDiscarded)
	}

	g.logger.Info("Scan cancelled", "generation", g.generation, "state", g.state)
	g.clear()
	g.setState(Idle)
	return nil
}

// Confirm hands the draft to commit. The gate returns to Idle only when commit
// succeeds; otherwise the draft stays under review and the error is returned.
// commit runs with the gate locked and must not call back into it.
func (g *Gate) Confirm(commit func(extract.Draft) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Reviewing {
		return ErrNoDraft
	}

	if err := commit(*g.draft); err != nil {
		g.logger.Warn("Draft not committed", "generation", g.generation, "error", err)
		return fmt.Errorf("committing draft: %w", err)
	}

	g.metrics.scan(outcomeConfirmed)
	g.logger.Info("Scan confirmed", "generation", g.generation)
	g.clear()
	g.setState(Idle)
	return nil
}

// Edit applies e to the draft under review and returns the result
func (g *Gate) Edit(e DraftEdit) (extract.Draft, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Reviewing {
		return extract.Draft{}, ErrNoDraft
	}

	d := g.draft
	if e.Amount != nil {
		d.Amount = *e.Amount
	}
	if e.Merchant != nil {
		d.Merchant = *e.Merchant
	}
	if e.Date != nil {
		d.Date = *e.Date
	}
	if e.Category != nil {
		d.Category = *e.Category
	}
	if e.Notes != nil {
		d.Notes = *e.Notes
	}
	return *d, nil
}

// Snapshot returns the current state of the gate
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{
		State:      g.state,
		Generation: g.generation,
		Err:        g.lastErr,
	}
	if g.session != nil {
		snap.Progress = int(g.session.progress.Load())
	}
	if g.draft != nil {
		d := *g.draft
		snap.Draft = &d
	}
	if g.lastErr != nil {
		snap.Error = g.lastErr.Error()
	}
	return snap
}

// RawText returns the recognized text behind the draft under review
func (g *Gate) RawText() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Reviewing {
		return "", ErrNoDraft
	}
	return g.rawText, nil
}

// Close cancels any scan in flight and waits for it to finish
func (g *Gate) Close() {
	g.mu.Lock()
	if g.state == Scanning {
		g.session.cancel()
		g.clear()
		g.setState(Idle)
	}
	g.mu.Unlock()

	g.wg.Wait()
}

func (g *Gate) clear() {
	g.session = nil
	g.draft = nil
	g.rawText = ""
}

func (g *Gate) setState(to State) {
	from := g.state
	g.state = to
	g.metrics.transition(from, to)
}
