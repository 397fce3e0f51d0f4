package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogNotifier_NeverErrors(t *testing.T) {
	n := NewLogNotifier(testLogger())
	err := n.Send(context.Background(), Alert{Level: LevelCritical, Title: "kill switch", Message: "tripped"})
	require.NoError(t, err)
}

type failingNotifier struct{ err error }

func (f failingNotifier) Send(ctx context.Context, alert Alert) error { return f.err }

func TestMulti_ContinuesPastFailureAndReturnsFirstError(t *testing.T) {
	first := errors.New("first failed")
	m := Multi{Notifiers: []Notifier{
		failingNotifier{err: first},
		NewLogNotifier(testLogger()),
		failingNotifier{err: errors.New("second failed")},
	}}
	err := m.Send(context.Background(), Alert{Level: LevelInfo, Title: "t", Message: "m"})
	require.Equal(t, first, err)
}
