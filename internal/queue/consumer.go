package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// StartLoginEmailConsumer connects to RabbitMQ, declares the login.email
// queue and consumes delivery jobs. Each job is appended to
// logs/login-email.log, which stands in for a real mail provider in
// development. The function runs a reconnect loop with exponential
// backoff and never returns under normal operation; processing errors
// are logged and the offending message is rejected without requeue so
// a poison message cannot wedge the worker.
func StartLoginEmailConsumer(url string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("login-email consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoginEmails(conn, log); err != nil {
			log.Warn("login-email consumer: loop ended, reconnecting", zap.Error(err))
			_ = conn.Close()
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoginEmails(conn *amqp.Connection, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("login-email consumer: set QoS failed", zap.Error(err))
	}

	if _, err := ch.QueueDeclare(QueueLoginEmail, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(QueueLoginEmail, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := deliverLoginEmail(d.Body); err != nil {
			log.Error("login-email consumer: delivery failed", zap.Error(err))
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func deliverLoginEmail(body []byte) error {
	var job LoginEmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	fpath := filepath.Join("logs", "login-email.log")
	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Login email | account_id=%s | to=%q | name=%q | expires=%d\n",
		job.QueuedAt, job.AccountID, job.Email, job.Name, job.Expires)

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
