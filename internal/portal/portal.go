// Package portal holds the application state of one visitor and wires the
// session, quota, payment and wizard components around it.
package portal

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/anonymous"
	"github.com/wenwu/saas-platform/statement-portal/internal/client"
	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/export"
	"github.com/wenwu/saas-platform/statement-portal/internal/metrics"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
	"github.com/wenwu/saas-platform/statement-portal/internal/payment"
	"github.com/wenwu/saas-platform/statement-portal/internal/quota"
	"github.com/wenwu/saas-platform/statement-portal/internal/session"
	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
	"github.com/wenwu/saas-platform/statement-portal/internal/wizard"
)

// Portal is everything one visitor's browser used to keep: the credential,
// the quota record, the pending payment marker, the fingerprint and the
// wizard. Each visitor gets its own backend client so cookie auth stays
// separate.
type Portal struct {
	ID string

	Backend     *client.BackendClient
	Store       storage.Store
	Notes       *notify.Recorder
	Auth        *session.Auth
	Record      *quota.Record
	Reconciler  *quota.Reconciler
	Account     *quota.AccountLane
	Anonymous   *anonymous.Gate
	Markers     *payment.MarkerStore
	Poller      *payment.Poller
	Interceptor *payment.Interceptor
	Checkout    *payment.Checkout
	Invoices    *payment.Invoices
	Documents   *Documents
	Profile     *Profile
	Wizard      *wizard.Wizard

	tasks *payment.Tasks
	log   *zap.Logger
}

// New builds the portal of visitor id on a shared store. Keys are scoped to
// the visitor.
func New(ctx context.Context, id string, cfg *config.Config, shared storage.Store, m *metrics.Metrics, log *zap.Logger) *Portal {
	log = log.With(zap.String("visitor", id))
	store := storage.Namespace(shared, id)
	api := client.NewBackendClient(cfg.Backend.URL, cfg.Backend.Timeout, log)
	notes := notify.NewRecorder()
	tasks := payment.NewTasks(ctx)

	holder := session.NewHolder(store)
	record := quota.NewRecord()
	reconciler := quota.NewReconciler(api, holder, record, m, log)
	markers := payment.NewMarkerStore(store, cfg.Payment.MarkerTTL)
	poller := payment.NewPoller(api, holder, markers, reconciler, notes, cfg.Payment, m, log)

	p := &Portal{
		ID:          id,
		Backend:     api,
		Store:       store,
		Notes:       notes,
		Auth:        session.NewAuth(api, holder, record, cfg.OAuth, log),
		Record:      record,
		Reconciler:  reconciler,
		Account:     quota.NewAccountLane(api, holder, record, reconciler, log),
		Anonymous:   anonymous.NewGate(api, anonymous.NewIdentity(store, log), log),
		Markers:     markers,
		Poller:      poller,
		Interceptor: payment.NewInterceptor(poller, markers, reconciler, notes, tasks, cfg.Payment, log),
		Checkout:    payment.NewCheckout(api, holder, markers, log),
		Invoices:    payment.NewInvoices(api, holder),
		Documents:   &Documents{backend: api, tokens: holder},
		tasks:       tasks,
		log:         log,
	}
	p.Profile = &Profile{backend: api, auth: p.Auth, reconciler: reconciler, notifier: notes, tokens: holder}

	format, err := export.ParseFormat(cfg.Export.DefaultFormat)
	if err != nil {
		log.Warn("unknown export format, using csv", zap.String("format", cfg.Export.DefaultFormat))
		format = export.FormatCSV
	}
	p.Wizard = wizard.New(p.Lane, notes, format, m, log)
	return p
}

// Lane picks the quota path of the next conversion.
func (p *Portal) Lane() wizard.Lane {
	if p.Auth.Holder().Authenticated() {
		return p.Account
	}
	return p.Anonymous
}

// Start restores the persisted credential, as a page load would.
func (p *Portal) Start(ctx context.Context) {
	if p.Auth.Hydrate(ctx) {
		p.log.Debug("credential restored")
	}
}

// Page is what the converter view needs after a page load.
type Page struct {
	Redirect      payment.Redirect      `json:"redirect"`
	Quota         QuotaView             `json:"quota"`
	Wizard        wizard.Snapshot       `json:"wizard"`
	Notifications []notify.Notification `json:"notifications"`
}

// Load handles a page load of the converter view. A return from checkout is
// handed to the interceptor; otherwise a live pending marker resumes polling.
func (p *Portal) Load(ctx context.Context, u *url.URL) Page {
	redirect := p.Interceptor.Handle(ctx, u)
	if !redirect.Triggered && !p.Interceptor.Handled() {
		if _, live, err := p.Markers.Inspect(ctx); err != nil {
			p.log.Warn("failed to read payment marker", zap.Error(err))
		} else if live {
			p.tasks.Go(func(ctx context.Context) {
				outcome := p.Poller.Confirm(ctx)
				p.log.Info("pending subscription check finished", zap.String("outcome", string(outcome)))
			})
		}
	}

	return Page{
		Redirect:      redirect,
		Quota:         p.Quota(),
		Wizard:        p.Wizard.Snapshot(),
		Notifications: p.Notes.Drain(),
	}
}

// QuotaView is the quota line of the converter view.
type QuotaView struct {
	Authenticated bool                    `json:"authenticated"`
	User          *models.UserProfile     `json:"user,omitempty"`
	Anonymous     *models.AnonymousStatus `json:"anonymous,omitempty"`
	Display       string                  `json:"display"`
	ResetNote     string                  `json:"reset_note,omitempty"`
	Provisional   bool                    `json:"provisional"`
}

func (p *Portal) Quota() QuotaView {
	if p.Auth.Holder().Authenticated() {
		v := QuotaView{Authenticated: true, Provisional: p.Record.IsProvisional()}
		if user, ok := p.Record.Current(); ok {
			v.User = &user
			v.Display = quota.Display(user)
			v.ResetNote = quota.ResetNote(user)
		}
		return v
	}
	v := QuotaView{Display: p.Anonymous.Display()}
	if status, ok := p.Anonymous.Status(); ok {
		v.Anonymous = &status
	}
	return v
}

// Wait blocks until background confirmation started by Load has finished.
func (p *Portal) Wait() {
	p.tasks.Wait()
}

// Close stops background work of the visitor.
func (p *Portal) Close() {
	p.tasks.Stop()
	p.Auth.Wait()
}
