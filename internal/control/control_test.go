package control

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"ktrader/internal/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOMS struct {
	paused      bool
	canceled    int
	pauseCalls  int
	resumeCalls int
}

func (f *fakeOMS) Pause()  { f.paused = true; f.pauseCalls++ }
func (f *fakeOMS) Resume() { f.paused = false; f.resumeCalls++ }
func (f *fakeOMS) CancelAllOrders(ctx context.Context) int { return f.canceled }

type fakeRisk struct{ active bool }

func (f *fakeRisk) ActivateKillSwitch()   { f.active = true }
func (f *fakeRisk) DeactivateKillSwitch() { f.active = false }
func (f *fakeRisk) KillSwitchActive() bool { return f.active }

func newManager() (*Manager, *fakeOMS, *fakeRisk) {
	bus := eventbus.New(testLogger(), nil)
	oms := &fakeOMS{}
	risk := &fakeRisk{}
	m := New(bus, oms, risk, nil, Config{ErrorThreshold: 3, ErrorWindow: 5 * time.Minute}, testLogger())
	return m, oms, risk
}

func TestManager_PauseResume(t *testing.T) {
	m, oms, _ := newManager()

	m.Pause(context.Background())
	require.True(t, m.IsPaused())
	require.True(t, oms.paused)

	m.Resume(context.Background())
	require.False(t, m.IsPaused())
	require.False(t, oms.paused)
}

func TestManager_ActivateKillSwitch_CancelsOrdersAndPauses(t *testing.T) {
	m, oms, risk := newManager()
	oms.canceled = 4

	n := m.ActivateKillSwitch(context.Background(), "manual test")

	require.Equal(t, 4, n)
	require.True(t, risk.active)
	require.True(t, m.IsPaused())
}

func TestManager_DeactivateKillSwitch_NoTOTPConfigured(t *testing.T) {
	m, _, risk := newManager()
	risk.active = true

	err := m.DeactivateKillSwitch("")
	require.NoError(t, err)
	require.False(t, risk.active)
}

func TestManager_DeactivateKillSwitch_RequiresValidTOTP(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	bus := eventbus.New(testLogger(), nil)
	oms := &fakeOMS{}
	risk := &fakeRisk{active: true}
	m := New(bus, oms, risk, nil, Config{TOTPSecret: secret}, testLogger())

	err := m.DeactivateKillSwitch("000000")
	require.Error(t, err)
	require.True(t, risk.active)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	err = m.DeactivateKillSwitch(code)
	require.NoError(t, err)
	require.False(t, risk.active)
}

func TestManager_RecordError_TripsAfterThreshold(t *testing.T) {
	m, _, _ := newManager()
	now := time.Now()

	require.False(t, m.RecordError(now))
	require.False(t, m.RecordError(now.Add(time.Second)))
	require.True(t, m.RecordError(now.Add(2*time.Second)))
}

func TestManager_RecordError_WindowExpiresOldErrors(t *testing.T) {
	m, _, _ := newManager()
	base := time.Now()

	m.RecordError(base)
	m.RecordError(base.Add(time.Minute))
	require.False(t, m.RecordError(base.Add(10*time.Minute)))
}

func TestManager_RequestShutdown(t *testing.T) {
	m, _, _ := newManager()
	require.False(t, m.ShutdownRequested())
	m.RequestShutdown("operator request")
	require.True(t, m.ShutdownRequested())
}

func TestManager_GetStatus(t *testing.T) {
	m, _, risk := newManager()
	risk.active = true
	m.Pause(context.Background())

	status := m.GetStatus()
	require.True(t, status.Paused)
	require.True(t, status.KillSwitchActive)
}
