package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/leadray/backoffice/internal/repository"
)

const applicationQueueName = "application.submitted"

// ApplicationInserter is the slice of the application store the consumer
// needs.
type ApplicationInserter interface {
	Insert(ctx context.Context, a repository.Application) (uint64, error)
}

// StartApplicationConsumer connects to RabbitMQ, declares the durable
// application.submitted queue and inserts one application row per message.
// It runs a reconnect loop with capped backoff and never returns; malformed
// messages are rejected without requeue so a poison message cannot wedge
// the queue.
func StartApplicationConsumer(url string, apps ApplicationInserter) {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("application-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(conn, apps); err != nil {
			log.Printf("application-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection, apps ApplicationInserter) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("application-consumer: set QoS failed: %v", err)
	}

	if _, err := ch.QueueDeclare(applicationQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(applicationQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := handleMessage(d.Body, apps); err != nil {
			log.Printf("application-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func handleMessage(body []byte, apps ApplicationInserter) error {
	var ev ApplicationSubmittedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.TelegramID == 0 || ev.Phone == "" {
		return errors.New("event missing telegram_id or phone")
	}

	submitted := time.Now().UTC()
	if ev.SubmittedAt != "" {
		t, err := time.Parse(time.RFC3339, ev.SubmittedAt)
		if err != nil {
			return fmt.Errorf("parse submitted_at: %w", err)
		}
		submitted = t.UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := apps.Insert(ctx, repository.Application{
		TelegramID:  ev.TelegramID,
		Username:    ev.Username,
		FirstName:   ev.FirstName,
		Phone:       ev.Phone,
		Age:         ev.Age,
		Citizenship: ev.Citizenship,
		Source:      ev.Source,
		CampaignID:  ev.CampaignID,
		SubmittedAt: submitted,
	})
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	log.Printf("application-consumer: stored application id=%d telegram_id=%d", id, ev.TelegramID)
	return nil
}
