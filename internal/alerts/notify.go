package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/navid-fn/tickrelay/internal/models"
)

// Notification is the user-facing message for one triggered alert.
type Notification struct {
	Title string
	Body  string
	Alert models.TriggeredAlert
}

// NotificationFor renders "Alert: <label>" and "<FSYM>/<TSYM> — <value>".
func NotificationFor(a models.TriggeredAlert) Notification {
	return Notification{
		Title: "Alert: " + a.RuleLabel,
		Body:  fmt.Sprintf("%s/%s — %s", a.Trade.Base, a.Trade.Quote, models.FormatValue(a.Condition, a.Value())),
		Alert: a,
	}
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Warn(n.Title, "detail", n.Body, "rule", n.Alert.RuleID, "seq", n.Alert.Trade.SequenceID)
	return nil
}

// Notifiers fans a notification out to every member. All members are
// attempted; their errors are joined.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range ns {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
