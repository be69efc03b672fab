package notify

import (
	"context"
	"time"

	"catcare.com/client/diagnosis"
	"catcare.com/client/poller"
)

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type attemptCounter interface {
	Attempts() int
}

// Callbacks wraps next so that every terminal outcome of a poll is published
// before next sees it. A failed publish is logged and otherwise ignored.
func Callbacks(publisher EventPublisher, counter attemptCounter, diagnosisID string, next poller.Callbacks) poller.Callbacks {
	publish := func(event Event) {
		event.DiagnosisID = diagnosisID
		event.OccurredAt = time.Now().UTC()
		if counter != nil {
			event.Attempts = counter.Attempts()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = publisher.Publish(ctx, event)
	}
	return poller.Callbacks{
		OnResolved: func(category diagnosis.Category) {
			publish(Event{Outcome: OutcomeResolved, Category: category.Category, Confidence: category.Confidence})
			if next.OnResolved != nil {
				next.OnResolved(category)
			}
		},
		OnFailed: func(err error) {
			publish(Event{Outcome: OutcomeFailed, Error: err.Error()})
			if next.OnFailed != nil {
				next.OnFailed(err)
			}
		},
		OnTimeout: func(err *poller.TimeoutError) {
			publish(Event{Outcome: OutcomeTimedOut, Attempts: err.Attempts, Error: err.Error()})
			if next.OnTimeout != nil {
				next.OnTimeout(err)
			}
		},
		OnProgress: next.OnProgress,
	}
}
