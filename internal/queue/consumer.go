package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/gezgintur/tour-booking/internal/repository"
)

// ConfirmFunc applies one payment confirmation to the booking engine.
// It must be idempotent: the broker redelivers on reconnects and the
// gateway itself retries callbacks.
type ConfirmFunc func(ctx context.Context, bookingID, method string, amountCents int64) error

// StartPaymentConsumer connects to the broker, declares the durable
// payment.confirmed queue and consumes confirmations until ctx is
// cancelled.  It runs a reconnect loop with exponential backoff so a
// broker restart never takes the engine down.
//
// Delivery handling:
//   - success or a terminal rejection (booking cancelled/expired, or
//     unknown) is acked/rejected permanently - redelivering cannot
//     change the outcome;
//   - transient store failures are nacked with requeue so the broker
//     retries later;
//   - undecodable payloads are rejected without requeue to avoid a
//     poison-message loop.
func StartPaymentConsumer(ctx context.Context, confirm ConfirmFunc, log zerolog.Logger) error {
	url := BrokerURL()
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("payment-consumer: dial failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(ctx, conn, confirm, log); err != nil {
			log.Warn().Err(err).Msg("payment-consumer: consume loop ended, reconnecting")
		}
		_ = conn.Close()
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, confirm ConfirmFunc, log zerolog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn().Err(err).Msg("payment-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(PaymentConfirmedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(PaymentConfirmedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			handleDelivery(ctx, d, confirm, log)
		}
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, confirm ConfirmFunc, log zerolog.Logger) {
	var msg PaymentConfirmedMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Error().Err(err).Msg("payment-consumer: undecodable message rejected")
		_ = d.Nack(false, false)
		return
	}
	err := confirm(ctx, msg.BookingID, msg.Method, msg.AmountCents)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, repository.ErrTransient):
		log.Warn().Err(err).Str("booking_id", msg.BookingID).Msg("payment-consumer: transient failure, requeueing")
		_ = d.Nack(false, true)
	case errors.Is(err, repository.ErrInvalidState), errors.Is(err, repository.ErrNotFound):
		// The booking is cancelled, expired or unknown; redelivery can
		// never succeed.  Log and drop.
		log.Warn().Err(err).Str("booking_id", msg.BookingID).Msg("payment-consumer: confirmation rejected")
		_ = d.Nack(false, false)
	default:
		log.Error().Err(err).Str("booking_id", msg.BookingID).Msg("payment-consumer: confirmation failed")
		_ = d.Nack(false, false)
	}
}
