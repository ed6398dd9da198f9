package testhelpers

import (
	"context"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
)

// RecordingNotifier publishes every notice on a buffered channel and returns Err.
type RecordingNotifier struct {
	Notices chan domain.CompletionNotice
	Err     error
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{Notices: make(chan domain.CompletionNotice, 16)}
}

func (n *RecordingNotifier) NotifyPaymentCompleted(ctx context.Context, notice domain.CompletionNotice) error {
	n.Notices <- notice
	return n.Err
}
