package notify

import (
	"context"
	"fmt"
	"time"

	"savannah-commerce/config"
	"savannah-commerce/internal/models"
	"savannah-commerce/internal/util"

	"go.uber.org/zap"
)

// DeliveryError reports a failed delivery on one channel. It never leaves
// this package as a returned error; the dispatcher logs and counts it.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// SMSSender delivers one customer text. Returns a gateway delivery id.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) (string, error)
}

// EmailSender delivers one admin email.
type EmailSender interface {
	SendEmail(ctx context.Context, subject, body string) error
}

// Dispatcher turns lifecycle events into customer SMS and admin email.
// Delivery is best effort: every failure is contained here, so the order
// mutation that triggered the event is never affected.
type Dispatcher struct {
	cfg    config.NotifyConfig
	sms    SMSSender
	email  EmailSender
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher with its channel implementations.
func NewDispatcher(cfg config.NotifyConfig, sms SMSSender, email EmailSender) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		sms:    sms,
		email:  email,
		logger: util.GetLogger(),
	}
}

// HandleOrderCreated sends the confirmation SMS and the new-order admin
// email. Always returns nil: there is nothing upstream that should retry
// or fail because a channel is down.
func (d *Dispatcher) HandleOrderCreated(ctx context.Context, ev *models.OrderCreatedEvent) error {
	d.sendSMS(ctx, ev.CustomerPhone, confirmationSMS(ev), ev.OrderNumber)

	subject, body := newOrderEmail(ev)
	d.sendEmail(ctx, subject, body, ev.OrderNumber)
	return nil
}

// HandleStatusChanged sends the status SMS and the transition admin email.
func (d *Dispatcher) HandleStatusChanged(ctx context.Context, ev *models.OrderStatusChangedEvent) error {
	d.sendSMS(ctx, ev.CustomerPhone, statusSMS(ev), ev.OrderNumber)

	subject, body := statusChangeEmail(ev)
	d.sendEmail(ctx, subject, body, ev.OrderNumber)
	return nil
}

func (d *Dispatcher) sendSMS(ctx context.Context, phone, text, orderNumber string) {
	normalized, err := NormalizePhone(phone, d.cfg.DefaultRegion)
	if err != nil {
		util.NotificationsFailedTotal.WithLabelValues("sms").Inc()
		d.logger.Warn("Skipping SMS, undeliverable phone",
			zap.String("order_number", orderNumber),
			zap.Error(err))
		return
	}

	start := time.Now()
	deliveryID, err := d.sms.SendSMS(ctx, normalized, text)
	util.NotificationLatency.WithLabelValues("sms").Observe(time.Since(start).Seconds())
	if err != nil {
		util.NotificationsFailedTotal.WithLabelValues("sms").Inc()
		derr := &DeliveryError{Channel: "sms", Err: err}
		d.logger.Error("SMS delivery failed",
			zap.String("order_number", orderNumber),
			zap.Error(derr))
		return
	}

	util.NotificationsSentTotal.WithLabelValues("sms").Inc()
	d.logger.Info("SMS sent",
		zap.String("order_number", orderNumber),
		zap.String("delivery_id", deliveryID))
}

func (d *Dispatcher) sendEmail(ctx context.Context, subject, body, orderNumber string) {
	start := time.Now()
	err := d.email.SendEmail(ctx, subject, body)
	util.NotificationLatency.WithLabelValues("email").Observe(time.Since(start).Seconds())
	if err != nil {
		util.NotificationsFailedTotal.WithLabelValues("email").Inc()
		derr := &DeliveryError{Channel: "email", Err: err}
		d.logger.Error("Admin email delivery failed",
			zap.String("order_number", orderNumber),
			zap.Error(derr))
		return
	}

	util.NotificationsSentTotal.WithLabelValues("email").Inc()
	d.logger.Info("Admin email sent",
		zap.String("order_number", orderNumber),
		zap.String("subject", subject))
}
