package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/purchase-core/internal/core/events"
	"github.com/frahmantamala/purchase-core/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage events: publish test events and inspect how handlers receive them`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test event",
	Long: fmt.Sprintf("Publish a test event to an in-process bus. Known types: %s, %s, %s, %s, %s, %s.",
		events.EventTypePurchaseStarted, events.EventTypePaymentCompleted, events.EventTypePaymentRejected,
		events.EventTypePaymentExpired, events.EventTypeLoyaltyCredited, events.EventTypeCustomerBlocked),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(cmd.Context(), args[0])
	},
}

var (
	eventData   string
	eventUserID string
)

func publishTestEvent(ctx context.Context, eventType string) error {
	lg := logger.LoggerWrapper()
	eventBus := events.NewEventBus(lg)

	eventBus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
		lg.Info("test handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	testEvent := events.BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"user_id": eventUserID,
			"message": eventData,
			"source":  "cli-command",
		},
	}

	lg.Info("publishing test event", "event_type", eventType, "event_id", testEvent.ID)
	if err := eventBus.PublishSync(ctx, testEvent); err != nil {
		return err
	}

	lg.Info("test event published successfully")
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "test message", "Event data message")
	publishEventCmd.Flags().StringVar(&eventUserID, "user", "demo-user", "user id carried by the event")

	eventCmd.AddCommand(publishEventCmd)
	rootCmd.AddCommand(eventCmd)
}
