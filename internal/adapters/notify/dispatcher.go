package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DanielPopoola/travelpay/internal/config"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
)

// Dispatcher fans a confirmation out to every configured channel. One failing channel does not
// stop the others; their errors are joined.
type Dispatcher struct {
	channels []ports.Notifier
}

func NewDispatcher(channels ...ports.Notifier) *Dispatcher {
	return &Dispatcher{channels: channels}
}

func (d *Dispatcher) NotifyPaymentCompleted(ctx context.Context, notice domain.CompletionNotice) error {
	var errs []error
	for _, ch := range d.channels {
		if err := ch.NotifyPaymentCompleted(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires the channels enabled in cfg. The returned close func releases broker connections.
func Build(cfg config.NotifyConfig, logger *slog.Logger) (*Dispatcher, func(), error) {
	var (
		channels []ports.Notifier
		closers  []func()
	)

	if cfg.RabbitMQ.URL != "" {
		publisher, err := NewRabbitPublisher(cfg.RabbitMQ, logger)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, publisher)
		closers = append(closers, publisher.Close)
	} else {
		logger.Warn("rabbitmq not configured, booking events disabled")
	}

	if cfg.SMTP.Host != "" {
		channels = append(channels, NewEmailSender(cfg.SMTP))
	} else {
		logger.Warn("smtp not configured, confirmation emails disabled")
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return NewDispatcher(channels...), closeAll, nil
}
