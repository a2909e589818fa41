package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/db/models"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
)

const defaultSendTimeout = 15 * time.Second

// Message fans out to whichever channels have a recipient set.
type Message struct {
	UserID  string
	Title   string
	Body    string
	Email   string
	Subject string
	HTML    string
	Phone   string
	SMS     string
}

type DispatcherParams struct {
	Repo    Repository
	Email   EmailSender
	SMS     SMSSender
	Logger  *logger.Logger
	Timeout time.Duration
}

// Dispatcher sends notifications in the background. Delivery failures are
// logged and never reported to the caller.
type Dispatcher struct {
	repo    Repository
	email   EmailSender
	sms     SMSSender
	logg    *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wires the senders. Email and SMS are optional; a nil sender
// drops that channel with a debug log.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifications repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{
		repo:    params.Repo,
		email:   params.Email,
		sms:     params.SMS,
		logg:    params.Logger,
		timeout: timeout,
	}, nil
}

// Dispatch returns immediately. The request context's values (log fields)
// are kept but its cancellation is not.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		d.deliver(sendCtx, msg)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	if msg.UserID != "" && msg.Title != "" {
		n := &models.Notification{UserID: msg.UserID, Title: msg.Title, Body: msg.Body}
		if err := d.repo.Create(ctx, n); err != nil {
			d.logg.Error(ctx, "failed to store in-app notification", err)
		}
	}

	if msg.Email != "" {
		if d.email == nil {
			d.logg.Debug(ctx, "email sender not configured; skipping email")
		} else if err := d.email.SendEmail(ctx, msg.Email, msg.Subject, msg.HTML); err != nil {
			d.logg.Error(d.logg.WithField(ctx, "channel", "email"), "failed to send notification", err)
		}
	}

	if msg.Phone != "" && msg.SMS != "" {
		if d.sms == nil {
			d.logg.Debug(ctx, "sms sender not configured; skipping sms")
		} else if err := d.sms.SendSMS(ctx, msg.Phone, msg.SMS); err != nil {
			d.logg.Error(d.logg.WithField(ctx, "channel", "sms"), "failed to send notification", err)
		}
	}
}
