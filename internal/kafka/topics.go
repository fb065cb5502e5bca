package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"ms-events/internal/logger"
	"ms-events/internal/models"

	"github.com/segmentio/kafka-go"
)

const (
	TopicEventCreated      = "events.event.created"
	TopicEventUpdated      = "events.event.updated"
	TopicEventDeleted      = "events.event.deleted"
	TopicAttendanceChanged = "events.attendance.changed"
)

var Topics = []string{TopicEventCreated, TopicEventUpdated, TopicEventDeleted, TopicAttendanceChanged}

func TopicFor(notificationType string) string {
	switch notificationType {
	case models.NotificationEventCreated:
		return TopicEventCreated
	case models.NotificationEventDeleted:
		return TopicEventDeleted
	case models.NotificationAttendeeJoined, models.NotificationAttendeeLeft:
		return TopicAttendanceChanged
	default:
		return TopicEventUpdated
	}
}

// EnsureTopicsExist creates missing topics through the cluster controller.
func EnsureTopicsExist(ctx context.Context, brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		switch {
		case errors.Is(err, kafka.TopicAlreadyExists):
			log.LogKafka("EXISTS", topic, "topic already exists")
		case err != nil:
			log.Error("KAFKA", fmt.Sprintf("Error creating topic %s: %v", topic, err))
		default:
			log.LogKafka("CREATE", topic, "topic created")
		}
	}
	return nil
}
