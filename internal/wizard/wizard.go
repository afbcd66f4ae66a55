// Package wizard drives the upload, processing and results flow of one conversion.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/client"
	"github.com/wenwu/saas-platform/statement-portal/internal/export"
	"github.com/wenwu/saas-platform/statement-portal/internal/metrics"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
	"github.com/wenwu/saas-platform/statement-portal/internal/quota"
)

type Step string

const (
	StepUpload     Step = "upload"
	StepProcessing Step = "processing"
	StepResults    Step = "results"
	StepError      Step = "error"
)

type transition struct {
	From Step
	To   Step
}

var validTransitions = map[transition]bool{
	{StepUpload, StepProcessing}:  true, // gate permitted
	{StepProcessing, StepResults}: true, // extraction succeeded
	{StepProcessing, StepError}:   true, // extraction failed
	{StepProcessing, StepUpload}:  true, // refused for lack of pages
	{StepResults, StepUpload}:     true, // reset
	{StepError, StepUpload}:       true, // reset
}

func CanTransition(from, to Step) bool {
	return validTransitions[transition{from, to}]
}

var (
	ErrInvalidTransition = errors.New("invalid wizard transition")
	ErrNoResults         = errors.New("no converted statement to export")
	// ErrQuotaExceeded matches a submission refused because no pages are left.
	ErrQuotaExceeded = quota.ErrQuotaExceeded
)

const (
	msgUpgrade       = "Insufficient pages remaining. Please upgrade your plan to continue processing."
	msgInvalidResult = "Invalid response from AI processing"
	msgGeneric       = "Failed to process the bank statement. Please try again."
	msgRetry         = "An error occurred. Please try again."
)

// ConversionError is a failed conversion. Message is safe to show the
// visitor; the cause is kept for logs and errors.Is.
type ConversionError struct {
	Message string
	Err     error
}

func (e *ConversionError) Error() string { return e.Message }

func (e *ConversionError) Unwrap() error { return e.Err }

// Lane is the quota path a conversion goes through: the account quota for a
// signed-in visitor, the free conversion otherwise.
type Lane interface {
	Name() string
	Permit(ctx context.Context, pages int) error
	Convert(ctx context.Context, file *models.Upload) (*models.ProcessResponse, error)
	Settle(ctx context.Context, resp *models.ProcessResponse)
	SuccessMessage(resp *models.ProcessResponse) string
}

// Snapshot is the wizard state handed to the page.
type Snapshot struct {
	Step        Step                  `json:"step"`
	Filename    string                `json:"filename,omitempty"`
	Data        *models.StatementData `json:"data,omitempty"`
	PagesUsed   int                   `json:"pages_used,omitempty"`
	Error       string                `json:"error,omitempty"`
	ExportReady bool                  `json:"export_ready"`
}

type Wizard struct {
	lane     func() Lane
	notifier notify.Notifier
	format   export.Format
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu        sync.Mutex
	busy      bool
	step      Step
	filename  string
	data      *models.StatementData
	blob      *export.File
	pagesUsed int
	errMsg    string
}

// New creates a wizard in the upload step. lane is consulted on every
// submission so a sign-in between uploads switches the quota path.
func New(lane func() Lane, notifier notify.Notifier, format export.Format, m *metrics.Metrics, log *zap.Logger) *Wizard {
	if format == "" {
		format = export.FormatCSV
	}
	return &Wizard{
		lane:     lane,
		notifier: notifier,
		format:   format,
		metrics:  m,
		log:      log.Named("wizard"),
		step:     StepUpload,
	}
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		Step:        w.step,
		Filename:    w.filename,
		Data:        w.data,
		PagesUsed:   w.pagesUsed,
		Error:       w.errMsg,
		ExportReady: w.blob != nil,
	}
}

// Submit validates the file, asks the active lane for permission and runs the
// conversion. Every return leaves the wizard in a concrete step with a
// notification explaining it.
func (w *Wizard) Submit(ctx context.Context, file *models.Upload) (Snapshot, error) {
	if err := Validate(file); err != nil {
		notify.Error(w.notifier, err.Error())
		return w.Snapshot(), err
	}

	lane := w.lane()
	log := w.log.With(zap.String("lane", lane.Name()), zap.String("file", file.Filename))

	w.mu.Lock()
	if w.busy || !CanTransition(w.step, StepProcessing) {
		step := w.step
		w.mu.Unlock()
		return w.Snapshot(), fmt.Errorf("%w: submit while %s", ErrInvalidTransition, step)
	}
	w.busy = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
	}()

	if err := lane.Permit(ctx, 1); err != nil {
		w.observe(lane, "blocked")
		var gate *quota.GateError
		if errors.As(err, &gate) {
			notify.WithAction(w.notifier, notify.LevelError, gate.Message, gate.Action)
		} else {
			notify.Error(w.notifier, msgRetry)
			err = &ConversionError{Message: msgRetry, Err: err}
		}
		log.Info("conversion blocked by quota gate", zap.Error(err))
		return w.Snapshot(), err
	}

	w.mu.Lock()
	err := w.moveTo(StepProcessing)
	if err == nil {
		w.filename = file.Filename
	}
	w.mu.Unlock()
	if err != nil {
		return w.Snapshot(), err
	}

	resp, err := lane.Convert(ctx, file)
	if err != nil {
		msg := userMessage(err)
		if IsInsufficientPages(msg) {
			w.toUpload()
			w.observe(lane, "insufficient_pages")
			notify.WithAction(w.notifier, notify.LevelError, msgUpgrade, notify.ActionUpgrade)
			log.Info("backend refused conversion for lack of pages", zap.String("detail", msg))
			return w.Snapshot(), &quota.GateError{Message: msgUpgrade, Action: notify.ActionUpgrade, Exhausted: true}
		}
		w.fail(msg)
		w.observe(lane, "failed")
		log.Warn("conversion failed", zap.Error(err))
		return w.Snapshot(), &ConversionError{Message: msg, Err: err}
	}
	if resp == nil || !resp.Success || resp.Data == nil {
		w.fail(msgInvalidResult)
		w.observe(lane, "failed")
		return w.Snapshot(), errors.New(msgInvalidResult)
	}

	blob, err := export.Render(resp.Data, w.format, file.Filename)
	if err != nil {
		w.fail(msgGeneric)
		w.observe(lane, "failed")
		log.Error("export rendering failed", zap.Error(err))
		return w.Snapshot(), &ConversionError{Message: msgGeneric, Err: err}
	}

	lane.Settle(ctx, resp)

	w.mu.Lock()
	if err := w.moveTo(StepResults); err != nil {
		w.mu.Unlock()
		return w.Snapshot(), err
	}
	w.data = resp.Data
	w.blob = blob
	w.pagesUsed = resp.PagesConsumed()
	w.mu.Unlock()

	w.observe(lane, "success")
	notify.Success(w.notifier, lane.SuccessMessage(resp))
	log.Info("conversion finished", zap.Int("pages", resp.PagesConsumed()))
	return w.Snapshot(), nil
}

// Reset returns to the upload step and drops the file, the extracted data and
// the export. It is a no-op in the upload step and refused while processing.
func (w *Wizard) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == StepUpload {
		return nil
	}
	// processing only goes back to upload on a quota refusal, never by request
	if w.step == StepProcessing {
		return fmt.Errorf("%w: reset while %s", ErrInvalidTransition, w.step)
	}
	if err := w.moveTo(StepUpload); err != nil {
		return err
	}
	w.clear()
	return nil
}

// Export returns the converted statement in format. The default format is
// rendered once at conversion time.
func (w *Wizard) Export(format export.Format) (*export.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepResults || w.data == nil {
		return nil, ErrNoResults
	}
	if format == "" || format == w.format {
		return w.blob, nil
	}
	return export.Render(w.data, format, w.filename)
}

// moveTo changes step along validTransitions. The caller holds w.mu.
func (w *Wizard) moveTo(to Step) error {
	if !CanTransition(w.step, to) {
		w.log.Error("refused wizard transition", zap.String("from", string(w.step)), zap.String("to", string(to)))
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, w.step, to)
	}
	w.step = to
	return nil
}

func (w *Wizard) toUpload() {
	w.mu.Lock()
	if w.moveTo(StepUpload) == nil {
		w.clear()
	}
	w.mu.Unlock()
}

// clear drops everything but the step.
func (w *Wizard) clear() {
	w.filename = ""
	w.data = nil
	w.blob = nil
	w.pagesUsed = 0
	w.errMsg = ""
}

func (w *Wizard) fail(msg string) {
	w.mu.Lock()
	if w.moveTo(StepError) == nil {
		w.errMsg = msg
	}
	w.mu.Unlock()
	notify.Error(w.notifier, msg)
}

func (w *Wizard) observe(lane Lane, outcome string) {
	if w.metrics != nil {
		w.metrics.Conversions.WithLabelValues(lane.Name(), outcome).Inc()
	}
}

// userMessage shows the backend's own detail. Anything else, a transport
// failure included, gets the generic message.
func userMessage(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return msgGeneric
}
