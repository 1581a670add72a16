package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"multiposter/internal/content"
	logx "multiposter/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		cron  string
	}{
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{in: "every: 10s", kind: SpecInterval, every: 10 * time.Second},
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@daily", kind: SpecCron, cron: "@daily"},
		{in: "cron: 0 7 * * *", kind: SpecCron, cron: "0 7 * * *"},
	}
	for _, tc := range cases {
		p, err := ParseSchedule(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.kind, p.Kind, tc.in)
		require.Equal(t, tc.every, p.Every, tc.in)
		require.Equal(t, tc.cron, p.Cron, tc.in)
	}

	for _, bad := range []string{"", "soon", "00:00", "01:75", "-5m", "cron:"} {
		_, err := ParseSchedule(bad)
		require.Error(t, err, bad)
	}
}

type fakeCtrl struct {
	mu     sync.Mutex
	starts []content.Kind
	delays []time.Duration
	stops  int
	err    error
}

func (f *fakeCtrl) Start(_ context.Context, kind content.Kind, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, kind)
	f.delays = append(f.delays, delay)
	return f.err
}

func (f *fakeCtrl) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func TestCompileRejectsBadDefs(t *testing.T) {
	s := New(&fakeCtrl{}, logx.Nop())

	_, err := s.Compile(Def{Name: "a", Spec: "1h", Action: "pause"})
	require.ErrorContains(t, err, "unknown action")

	_, err = s.Compile(Def{Name: "b", Spec: "1h", Action: ActionStart, Kind: "audio"})
	require.ErrorContains(t, err, "unknown post type")

	_, err = s.Compile(Def{Name: "c", Spec: "0 7 * * *", Action: ActionStop, Timezone: "Mars/Olympus"})
	require.ErrorContains(t, err, "timezone")

	_, err = s.Compile(Def{Name: "d", Spec: "0 99 * * *", Action: ActionStop})
	require.Error(t, err)

	sched, err := s.Compile(Def{Name: "e", Spec: "30 7 * * *", Action: ActionStop, Timezone: "Asia/Jakarta"})
	require.NoError(t, err)
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	next := sched.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, loc))
	require.Equal(t, 7, next.In(loc).Hour())
	require.Equal(t, 30, next.In(loc).Minute())
}

func TestApplyIsAllOrNothing(t *testing.T) {
	s := New(&fakeCtrl{}, logx.Nop())
	require.NoError(t, s.Apply([]Def{{Name: "keep", Spec: "1h", Action: ActionStop}}))

	err := s.Apply([]Def{
		{Name: "ok", Spec: "2h", Action: ActionStop},
		{Name: "bad", Spec: "nope", Action: ActionStop},
	})
	require.Error(t, err)

	entries := s.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "keep", entries[0].Name)
}

func TestFireDrivesController(t *testing.T) {
	ctrl := &fakeCtrl{}
	s := New(ctrl, logx.Nop())
	require.NoError(t, s.Apply([]Def{
		{Name: "morning", Spec: "0 7 * * *", Action: ActionStart, Kind: content.KindPhoto, Delay: 45 * time.Second},
		{Name: "night", Spec: "0 23 * * *", Action: ActionStop},
	}))

	s.fire(s.defs[0])
	s.fire(s.defs[1])

	require.Equal(t, []content.Kind{content.KindPhoto}, ctrl.starts)
	require.Equal(t, []time.Duration{45 * time.Second}, ctrl.delays)
	require.Equal(t, 1, ctrl.stops)

	ctrl.err = errors.New("dispatch: already running")
	s.fire(s.defs[0])
	entries := s.Entries()
	require.Equal(t, uint64(2), entries[0].Fires)
	require.Equal(t, "dispatch: already running", entries[0].Err)
}

func TestStartReportsNextRun(t *testing.T) {
	s := New(&fakeCtrl{}, logx.Nop())
	require.NoError(t, s.Apply([]Def{{Name: "tick", Spec: "1h", Action: ActionStop}}))

	s.Start(context.Background())
	defer s.Stop(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1)
	require.False(t, entries[0].Next.IsZero())
	require.WithinDuration(t, time.Now().Add(time.Hour), entries[0].Next, 2*time.Second)

	// Hot reload while running swaps the entry.
	require.NoError(t, s.Apply([]Def{{Name: "tock", Spec: "30m", Action: ActionStop}}))
	entries = s.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "tock", entries[0].Name)
	require.False(t, entries[0].Next.IsZero())
}
