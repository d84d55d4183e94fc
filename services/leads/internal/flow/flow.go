// Package flow drives the client side of a generation: form entry, the
// generating phase with its status ticker, and the results view with the
// unlock threshold.
package flow

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"leadmachine/pkg/domain"
	"leadmachine/pkg/export"
)

type State string

const (
	StateForm       State = "form"
	StateGenerating State = "generating"
	// StateDone is the transient state before handing off to the exports view.
	StateDone    State = "done"
	StateResults State = "results"
)

// VisibleLeads is how many leads are shown before unlocking.
const VisibleLeads = 10

// DefaultCaptions are shown in order while a generation runs. They do not
// reflect backend progress.
var DefaultCaptions = []string{
	"Analyzing your business...",
	"Searching for matching companies...",
	"Identifying decision makers...",
	"Checking public contact details...",
	"Scoring fit for each company...",
	"Preparing your results...",
}

var (
	ErrIncompleteForm = errors.New("company URL and description are required")
	ErrBusy           = errors.New("a generation is already running")
	ErrWrongState     = errors.New("action not available in the current state")
)

// Generator performs the backend generation call.
type Generator interface {
	GenerateLeads(ctx context.Context, req domain.GenerationRequest) ([]domain.Lead, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req domain.GenerationRequest) ([]domain.Lead, error)

func (f GeneratorFunc) GenerateLeads(ctx context.Context, req domain.GenerationRequest) ([]domain.Lead, error) {
	return f(ctx, req)
}

type EventKind string

const (
	EventState   EventKind = "state"
	EventCaption EventKind = "caption"
	EventError   EventKind = "error"
)

// Event is a notification for the presentation layer. Error events are the
// transient toast shown after a failed generation.
type Event struct {
	Kind    EventKind
	State   State
	Message string
}

type Options struct {
	Captions []string
	// TickInterval is the caption period. Zero means 2.5s.
	TickInterval time.Duration
	// HandOff ends successful generations in StateDone instead of StateResults.
	HandOff bool
	// Checkout is the payment step behind Unlock. Nil unlocks immediately.
	Checkout func(ctx context.Context) error
	// OnEvent receives notifications. It may be called from the ticker goroutine.
	OnEvent func(Event)
}

// Flow is safe for concurrent use.
type Flow struct {
	gen      Generator
	captions []string
	interval time.Duration
	handOff  bool
	checkout func(ctx context.Context) error
	onEvent  func(Event)

	mu       sync.Mutex
	state    State
	form     domain.GenerationRequest
	leads    []domain.Lead
	unlocked bool
	caption  string
	// resets counts Reset calls so Unlock can tell its results were replaced.
	resets uint64
}

func New(gen Generator, opts Options) *Flow {
	captions := opts.Captions
	if len(captions) == 0 {
		captions = DefaultCaptions
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}
	return &Flow{
		gen:      gen,
		captions: captions,
		interval: interval,
		handOff:  opts.HandOff,
		checkout: opts.Checkout,
		onEvent:  opts.OnEvent,
		state:    StateForm,
	}
}

// SetForm replaces the form contents. Only allowed in StateForm.
func (f *Flow) SetForm(req domain.GenerationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateForm {
		return ErrWrongState
	}
	f.form = req
	return nil
}

// Form returns the current form contents.
func (f *Flow) Form() domain.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Caption is the ticker text, empty outside StateGenerating.
func (f *Flow) Caption() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caption
}

// Submit runs one generation and blocks until the backend call settles.
// The ticker runs alongside the call and is stopped before Submit returns.
// On failure the flow goes back to StateForm with the form kept.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	switch f.state {
	case StateGenerating:
		f.mu.Unlock()
		return ErrBusy
	case StateForm:
	default:
		f.mu.Unlock()
		return ErrWrongState
	}
	if strings.TrimSpace(f.form.CompanyURL) == "" || strings.TrimSpace(f.form.Description) == "" {
		f.mu.Unlock()
		return ErrIncompleteForm
	}
	req := f.form
	f.state = StateGenerating
	f.caption = f.captions[0]
	f.mu.Unlock()
	f.emit(Event{Kind: EventState, State: StateGenerating})
	f.emit(Event{Kind: EventCaption, State: StateGenerating, Message: f.captions[0]})

	stop := f.startTicker()
	leads, err := f.gen.GenerateLeads(ctx, req)
	stop()

	f.mu.Lock()
	f.caption = ""
	if err != nil {
		f.state = StateForm
		f.leads = nil
		f.unlocked = false
		f.mu.Unlock()
		f.emit(Event{Kind: EventError, State: StateForm, Message: err.Error()})
		f.emit(Event{Kind: EventState, State: StateForm})
		return err
	}
	if leads == nil {
		leads = []domain.Lead{}
	}
	f.leads = leads
	f.unlocked = false
	f.state = StateResults
	if f.handOff {
		f.state = StateDone
	}
	next := f.state
	f.mu.Unlock()
	f.emit(Event{Kind: EventState, State: next})
	return nil
}

// startTicker advances the caption every interval until the returned stop
// function is called. The last caption holds once the sequence runs out.
func (f *Flow) startTicker() (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for i := 1; ; {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			if i >= len(f.captions) {
				continue
			}
			caption := f.captions[i]
			i++
			f.mu.Lock()
			if f.state != StateGenerating {
				f.mu.Unlock()
				return
			}
			f.caption = caption
			f.mu.Unlock()
			f.emit(Event{Kind: EventCaption, State: StateGenerating, Message: caption})
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// Leads returns every lead of the last generation.
func (f *Flow) Leads() []domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Lead, len(f.leads))
	copy(out, f.leads)
	return out
}

// Visible returns the leads shown to the user: all when unlocked, otherwise
// the first VisibleLeads.
func (f *Flow) Visible() []domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visibleLocked()
}

func (f *Flow) visibleLocked() []domain.Lead {
	n := len(f.leads)
	if !f.unlocked && n > VisibleLeads {
		n = VisibleLeads
	}
	out := make([]domain.Lead, n)
	copy(out, f.leads[:n])
	return out
}

// Masked is the number of leads hidden until Unlock.
func (f *Flow) Masked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlocked || len(f.leads) <= VisibleLeads {
		return 0
	}
	return len(f.leads) - VisibleLeads
}

func (f *Flow) Unlocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocked
}

// Unlock runs the checkout step and reveals every lead.
func (f *Flow) Unlock(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateResults && f.state != StateDone {
		f.mu.Unlock()
		return ErrWrongState
	}
	run := f.resets
	f.mu.Unlock()
	if f.checkout != nil {
		if err := f.checkout(ctx); err != nil {
			f.emit(Event{Kind: EventError, State: f.State(), Message: err.Error()})
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resets != run || (f.state != StateResults && f.state != StateDone) {
		return ErrWrongState
	}
	f.unlocked = true
	return nil
}

// ShowResults moves a handed-off flow from StateDone to StateResults.
func (f *Flow) ShowResults() error {
	f.mu.Lock()
	if f.state != StateDone {
		f.mu.Unlock()
		return ErrWrongState
	}
	f.state = StateResults
	f.mu.Unlock()
	f.emit(Event{Kind: EventState, State: StateResults})
	return nil
}

// Reset returns to an empty form, clearing leads and the unlock flag.
func (f *Flow) Reset() error {
	f.mu.Lock()
	if f.state == StateGenerating {
		f.mu.Unlock()
		return ErrBusy
	}
	f.state = StateForm
	f.form = domain.GenerationRequest{}
	f.leads = nil
	f.unlocked = false
	f.resets++
	f.mu.Unlock()
	f.emit(Event{Kind: EventState, State: StateForm})
	return nil
}

// Export writes the visible leads in format.
func (f *Flow) Export(w io.Writer, format export.Format, opts export.Options) error {
	f.mu.Lock()
	if f.state != StateResults && f.state != StateDone {
		f.mu.Unlock()
		return ErrWrongState
	}
	leads := f.visibleLocked()
	f.mu.Unlock()
	return export.Write(w, format, leads, opts)
}

func (f *Flow) emit(ev Event) {
	if f.onEvent != nil {
		f.onEvent(ev)
	}
}
