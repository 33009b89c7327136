package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/sirupsen/logrus"
)

// Notifier delivers a single user-facing notification. Implementations must
// be safe for concurrent use; the dispatcher and the stale sweep both call in.
type Notifier interface {
	Notify(ctx context.Context, businessId string, userId int, eventType string, payload interface{}) error
}

type notificationEnvelope struct {
	BusinessId string      `json:"business_id"`
	UserId     int         `json:"user_id"`
	EventType  string      `json:"event_type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// PubSubNotifier pushes notifications onto the notification topic, where the
// notification service fans them out to in-app and email channels.
type PubSubNotifier struct{}

func (PubSubNotifier) Notify(ctx context.Context, businessId string, userId int, eventType string, payload interface{}) error {
	return config.PublishNotification(ctx, notificationEnvelope{
		BusinessId: businessId,
		UserId:     userId,
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
}

// LogNotifier writes notifications to the structured log. Used in local
// development and tests where no notification topic exists.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Notify(ctx context.Context, businessId string, userId int, eventType string, payload interface{}) error {
	logger := n.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	logger.WithFields(logrus.Fields{
		"field":       "Notifier",
		"business_id": businessId,
		"user_id":     userId,
		"event_type":  eventType,
	}).Info("notification")
	return nil
}
