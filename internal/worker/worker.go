package worker

import (
	"context"
	"log"

	"savannah-commerce/internal/broker"
	"savannah-commerce/internal/notify"
)

// NotificationWorker consumes order lifecycle events and drives the
// notification dispatcher. It runs entirely off the request path; a message
// dropped during shutdown is simply not redelivered to the customer.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, dispatcher *notify.Dispatcher) *NotificationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCreated(dispatcher.HandleOrderCreated)
	eventHandler.OnOrderStatusChanged(dispatcher.HandleStatusChanged)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}
