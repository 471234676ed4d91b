package allocation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/events"
	"github.com/kilianp07/stationctl/core/model"
	"github.com/kilianp07/stationctl/core/store"
)

func TestNewController_InitializesFromLayout(t *testing.T) {
	f := newFixture(t)
	snap := f.c.CurrentState()
	if len(snap.Resources) != 24 {
		t.Fatalf("expected 24 resources got %d", len(snap.Resources))
	}
	if len(snap.Roster) != len(fixtureTrains()) {
		t.Fatalf("expected roster seeded from master, got %d entries", len(snap.Roster))
	}
	// roster is ordered by scheduled arrival; the freight train has none
	assert.Equal(t, "12345", snap.Roster[0].TrainID)
	assert.Equal(t, "55501", snap.Roster[len(snap.Roster)-1].TrainID)

	if _, err := f.store.LoadState(context.Background()); err != nil {
		t.Fatalf("initial state not persisted: %v", err)
	}
	require.NoError(t, f.c.Close())
	assert.Contains(t, f.audit.actions(), audit.ActionInit)
}

func TestNewController_LoadsAndReconcilesStoredState(t *testing.T) {
	ms := store.NewMemoryStore()
	st := &model.StationState{Resources: []model.Resource{
		{ID: "P1", Kind: model.KindPlatform, Group: "P1-3", State: model.StateMaintenance},
	}}
	require.NoError(t, ms.ReplaceState(context.Background(), st))

	f := newFixture(t)
	c, err := NewController(context.Background(), Deps{Engine: f.c.Engine(), Store: ms}, Config{})
	require.NoError(t, err)
	defer c.Close()

	snap := c.CurrentState()
	assert.Len(t, snap.Resources, 24)
	assert.Equal(t, model.StateMaintenance, snap.Resources[0].State)
	assert.Empty(t, snap.Roster)
}

func TestNewController_NilDeps(t *testing.T) {
	if _, err := NewController(context.Background(), Deps{}, Config{}); err == nil {
		t.Fatalf("expected error for missing engine and store")
	}
}

func TestAssign_ShortTrainFromRoster(t *testing.T) {
	f := newFixture(t)
	res, err := f.c.Assign(context.Background(), AssignRequest{
		TrainID: "12345", ResourceIDs: []string{"Platform 1"}, ActualArrival: "10:02", IncomingLine: testLine,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, res.ResourceIDs)
	assert.Equal(t, 5*time.Minute, res.Dwell)

	p1 := f.resource("P1")
	require.Equal(t, model.StateOccupied, p1.State)
	require.NotNil(t, p1.Occupant)
	assert.True(t, p1.Occupant.IsPrimary)
	assert.Equal(t, "Howrah Express", p1.Occupant.TrainName)
	assert.Equal(t, testLine, p1.Occupant.IncomingLine)
	assert.Empty(t, p1.LinkedResourceID)

	snap := f.c.CurrentState()
	for _, r := range snap.Roster {
		if r.TrainID == "12345" {
			t.Fatalf("train still on roster after assignment")
		}
	}
	stored, err := f.store.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateOccupied, stored.Resource("P1").State)
	assert.Equal(t, 1, f.c.alerts.Pending())
}

func TestAssign_LongTrainLinksPartner(t *testing.T) {
	f := newFixture(t)
	res, err := f.c.Assign(context.Background(), AssignRequest{TrainID: "99901", ResourceIDs: []string{"P1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P3"}, res.ResourceIDs)

	p1, p3 := f.resource("P1"), f.resource("P3")
	assert.Equal(t, model.StateOccupied, p1.State)
	assert.Equal(t, model.StateOccupied, p3.State)
	assert.Equal(t, "P3", p1.LinkedResourceID)
	assert.Equal(t, "P1", p3.LinkedResourceID)
	assert.True(t, p1.Occupant.IsPrimary)
	assert.False(t, p3.Occupant.IsPrimary)
}

func TestAssign_LongTrainPartnerUnavailable(t *testing.T) {
	f := newFixture(t)
	f.occupy(t, "12345", "P3")

	_, err := f.c.Assign(context.Background(), AssignRequest{TrainID: "99901", ResourceIDs: []string{"P1"}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
	if !strings.Contains(err.Error(), "partner unavailable") {
		t.Fatalf("expected partner reason, got %q", err.Error())
	}
	assert.Equal(t, model.StateFree, f.resource("P1").State)
	assert.Contains(t, rosterIDs(f.c.CurrentState()), "99901")
}

func TestAssign_LongTrainOnLongSingle(t *testing.T) {
	f := newFixture(t)
	res, err := f.c.Assign(context.Background(), AssignRequest{TrainID: "99901", ResourceIDs: []string{"P5"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"P5"}, res.ResourceIDs)
	assert.Empty(t, f.resource("P5").LinkedResourceID)
}

func TestAssign_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		req  AssignRequest
		want error
	}{
		{"empty resources", AssignRequest{TrainID: "12345"}, ErrInvalidArgument},
		{"empty train", AssignRequest{ResourceIDs: []string{"P1"}}, ErrInvalidArgument},
		{"blank resource", AssignRequest{TrainID: "12345", ResourceIDs: []string{" "}}, ErrInvalidArgument},
		{"three resources", AssignRequest{TrainID: "12345", ResourceIDs: []string{"P1", "P2", "P5"}}, ErrInvalidArgument},
		{"malformed resource", AssignRequest{TrainID: "12345", ResourceIDs: []string{"!!"}}, ErrInvalidArgument},
		{"resource without number", AssignRequest{TrainID: "12345", ResourceIDs: []string{"Platform"}}, ErrInvalidArgument},
		{"not a pair", AssignRequest{TrainID: "12345", ResourceIDs: []string{"P1", "T7"}}, ErrInvalidArgument},
		{"singles are not a pair", AssignRequest{TrainID: "99901", ResourceIDs: []string{"P5", "P6"}}, ErrInvalidArgument},
		{"unknown resource", AssignRequest{TrainID: "12345", ResourceIDs: []string{"P42"}}, ErrNotFound},
		{"unknown train", AssignRequest{TrainID: "00000", ResourceIDs: []string{"P1"}}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.c.Assign(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}
}

func TestAssign_OccupiedAndMaintenanceConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.occupy(t, "12345", "P2")
	_, err := f.c.Assign(ctx, AssignRequest{TrainID: "12346", ResourceIDs: []string{"P2"}})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.c.ToggleMaintenance(ctx, "P6")
	require.NoError(t, err)
	_, err = f.c.Assign(ctx, AssignRequest{TrainID: "12346", ResourceIDs: []string{"P6"}})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestAssign_TrainAlreadyPlaced(t *testing.T) {
	f := newFixture(t)
	f.occupy(t, "12345", "P2")
	_, err := f.c.Assign(context.Background(), AssignRequest{TrainID: "12345", ResourceIDs: []string{"P6"}})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "already occupies P2")
}

func TestAssign_ConcurrentSameResource(t *testing.T) {
	f := newFixture(t)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, id := range []string{"12345", "12346"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.c.Assign(context.Background(), AssignRequest{TrainID: id, ResourceIDs: []string{"P2"}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(id)
	}
	wg.Wait()
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d/%d", successes, conflicts)
	}
}

func TestAssign_PersistFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.store.setFailing(true)
	_, err := f.c.Assign(context.Background(), AssignRequest{TrainID: "99901", ResourceIDs: []string{"P1"}})
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected unavailable wrapping write error, got %v", err)
	}
	assert.Equal(t, model.StateFree, f.resource("P1").State)
	assert.Equal(t, model.StateFree, f.resource("P3").State)
	assert.Contains(t, rosterIDs(f.c.CurrentState()), "99901")
	assert.Equal(t, 0, f.c.alerts.Pending())
}

func TestAssign_FromWaitingTakesPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.c.Enqueue(ctx, EnqueueRequest{TrainID: "12346", ActualArrival: "10:12", IncomingLine: testLine})
	require.NoError(t, err)

	_, err = f.c.Assign(ctx, AssignRequest{TrainID: "12346", ResourceIDs: []string{"P6"}})
	require.NoError(t, err)
	snap := f.c.CurrentState()
	assert.Empty(t, snap.Waiting)
	assert.Contains(t, rosterIDs(snap), "12346")
	occ := f.resource("P6").Occupant
	require.NotNil(t, occ)
	assert.Equal(t, "10:12", occ.ActualArrival)
	assert.Equal(t, testLine, occ.IncomingLine)
}

func TestUnassign_NotOccupied(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.Unassign(context.Background(), "P1", PolicyKeep)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.c.Unassign(context.Background(), "P99", PolicyKeep)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.c.Depart(context.Background(), "#1")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUnassign_ClearsPair(t *testing.T) {
	f := newFixture(t)
	f.occupy(t, "99901", "P1")
	res, err := f.c.Unassign(context.Background(), "P3", PolicyKeep)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"P1", "P3"}, res.ResourceIDs)
	for _, id := range []string{"P1", "P3"} {
		r := f.resource(id)
		assert.Equal(t, model.StateFree, r.State)
		assert.Nil(t, r.Occupant)
		assert.Empty(t, r.LinkedResourceID)
	}
	assert.Equal(t, 0, f.c.alerts.Pending())
}

func TestUnassign_Policies(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	f.occupy(t, "12345", "P2")
	_, err := f.c.Unassign(ctx, "P2", PolicyKeep)
	require.NoError(t, err)
	snap := f.c.CurrentState()
	assert.NotContains(t, rosterIDs(snap), "12345")
	assert.Empty(t, snap.Waiting)

	f = newFixture(t)
	f.occupy(t, "12345", "P2")
	_, err = f.c.Unassign(ctx, "P2", PolicyReturnToRoster)
	require.NoError(t, err)
	snap = f.c.CurrentState()
	require.Contains(t, rosterIDs(snap), "12345")
	assert.Equal(t, "12345", snap.Roster[0].TrainID)
	assert.Equal(t, "10:00", snap.Roster[0].ScheduledArrival)

	f = newFixture(t)
	f.occupy(t, "12345", "P2")
	_, err = f.c.Unassign(ctx, "P2", PolicyReturnToWaiting)
	require.NoError(t, err)
	snap = f.c.CurrentState()
	require.Len(t, snap.Waiting, 1)
	assert.Equal(t, "12345", snap.Waiting[0].TrainID)

	_, err = f.c.Unassign(ctx, "P2", UnassignPolicy("bogus"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseUnassignPolicy(t *testing.T) {
	p, err := ParseUnassignPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyKeep, p)
	p, err = ParseUnassignPolicy(" Waiting ")
	require.NoError(t, err)
	assert.Equal(t, PolicyReturnToWaiting, p)
	_, err = ParseUnassignPolicy("nowhere")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDepart_RecordsAudit(t *testing.T) {
	f := newFixture(t)
	f.occupy(t, "12345", "P2")
	res, err := f.c.Depart(context.Background(), "Platform 2")
	require.NoError(t, err)
	assert.Equal(t, "12345", res.TrainID)
	assert.Equal(t, model.StateFree, f.resource("P2").State)
	require.NoError(t, f.c.Close())
	assert.Contains(t, f.audit.actions(), audit.ActionDepart)
}

func TestDepartureAlertFires(t *testing.T) {
	restore := dwellTime
	dwellTime = func(model.Train) time.Duration { return 20 * time.Millisecond }
	defer func() { dwellTime = restore }()

	f := newFixture(t)
	f.occupy(t, "12345", "P2")
	ev, ok := waitEvent(f.rec, events.TypeDepartureAlert, time.Second)
	if !ok {
		t.Fatalf("departure alert not published")
	}
	alert := ev.Payload.(events.DepartureAlert)
	assert.Equal(t, "12345", alert.TrainNumber)
	assert.Equal(t, "Howrah Express", alert.TrainName)
	assert.Equal(t, "P2", alert.PlatformID)
	// the alert does not free the resource
	assert.Equal(t, model.StateOccupied, f.resource("P2").State)
}

func TestAssignThenUnassign_CancelsAlert(t *testing.T) {
	restore := dwellTime
	dwellTime = func(model.Train) time.Duration { return 40 * time.Millisecond }
	defer func() { dwellTime = restore }()

	f := newFixture(t)
	f.occupy(t, "12345", "P2")
	_, err := f.c.Unassign(context.Background(), "P2", PolicyKeep)
	require.NoError(t, err)
	if _, ok := waitEvent(f.rec, events.TypeDepartureAlert, 150*time.Millisecond); ok {
		t.Fatalf("departure alert published after unassign")
	}
}

func TestToggleMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st, err := f.c.ToggleMaintenance(ctx, "P7")
	require.NoError(t, err)
	assert.Equal(t, model.StateMaintenance, st)
	st, err = f.c.ToggleMaintenance(ctx, "P7")
	require.NoError(t, err)
	assert.Equal(t, model.StateFree, st)

	f.occupy(t, "12345", "P2")
	_, err = f.c.ToggleMaintenance(ctx, "P2")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.c.ToggleMaintenance(ctx, "X9")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.c.ToggleMaintenance(ctx, "!!")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEnqueueDequeue(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, withClock(func() time.Time { return fixed }))
	ctx := context.Background()

	a, err := f.c.Enqueue(ctx, EnqueueRequest{TrainID: "12346"})
	require.NoError(t, err)
	b, err := f.c.Enqueue(ctx, EnqueueRequest{TrainID: "12345"})
	require.NoError(t, err)
	assert.True(t, b.EnqueuedAt.After(a.EnqueuedAt), "enqueue times must be strictly increasing")

	snap := f.c.CurrentState()
	require.Len(t, snap.Waiting, 2)
	assert.Equal(t, "12346", snap.Waiting[0].TrainID)
	assert.Contains(t, rosterIDs(snap), "12346")

	_, err = f.c.Enqueue(ctx, EnqueueRequest{TrainID: "12346"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.c.Enqueue(ctx, EnqueueRequest{TrainID: "00000"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.c.Enqueue(ctx, EnqueueRequest{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, f.c.Dequeue(ctx, "12346"))
	snap = f.c.CurrentState()
	require.Len(t, snap.Waiting, 1)
	assert.Contains(t, rosterIDs(snap), "12346")
	assert.ErrorIs(t, f.c.Dequeue(ctx, "12346"), ErrNotFound)
}

func TestSyncRoster_AppendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.occupy(t, "12345", "P2")
	added, err := f.c.SyncRoster(ctx, []model.RosterEntry{
		{TrainID: "12345", Name: "Howrah Express"},
		{TrainID: "77777", Name: "Special", ScheduledArrival: "09:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	ids := rosterIDs(f.c.CurrentState())
	assert.NotContains(t, ids, "12345")
	assert.Equal(t, "77777", ids[0])

	added, err = f.c.SyncRoster(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestAddAndRemoveTrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := short("22222")
	require.NoError(t, f.c.AddTrain(ctx, tr))
	assert.Contains(t, rosterIDs(f.c.CurrentState()), "22222")
	assert.ErrorIs(t, f.c.AddTrain(ctx, tr), ErrConflict)
	assert.ErrorIs(t, f.c.AddTrain(ctx, model.Train{ID: "bad"}), ErrInvalidArgument)

	_, err := f.c.Enqueue(ctx, EnqueueRequest{TrainID: "22222"})
	require.NoError(t, err)
	require.NoError(t, f.c.RemoveTrain(ctx, "22222"))
	snap := f.c.CurrentState()
	assert.NotContains(t, rosterIDs(snap), "22222")
	assert.Empty(t, snap.Waiting)
	_, err = f.trains.GetTrain(ctx, "22222")
	assert.Error(t, err)
	assert.ErrorIs(t, f.c.RemoveTrain(ctx, "22222"), ErrNotFound)

	f.occupy(t, "12345", "P2")
	assert.ErrorIs(t, f.c.RemoveTrain(ctx, "12345"), ErrConflict)
}

func TestRank_UsesMasterData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	got, err := f.c.Rank(ctx, RankRequest{TrainID: "12345", IncomingLine: testLine})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "P1", got[0].ResourceID)
	assert.True(t, got[0].HistoricalMatch)

	f.occupy(t, "12346", "P1")
	got, err = f.c.Rank(ctx, RankRequest{TrainID: "12345", IncomingLine: testLine})
	require.NoError(t, err)
	for _, r := range got {
		assert.NotEqual(t, "P1", r.ResourceID)
	}

	_, err = f.c.Rank(ctx, RankRequest{TrainID: "00000", IncomingLine: testLine})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.c.Rank(ctx, RankRequest{TrainID: "12345"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRank_FreightPlatformOverride(t *testing.T) {
	f := newFixture(t)
	needs := true
	got, err := f.c.Rank(context.Background(), RankRequest{TrainID: "55501", IncomingLine: "HIJ Freight", FreightNeedsPlatform: &needs})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "P1", got[0].ResourceID)
	assert.Equal(t, "HIGHEST", string(got[0].Partition))
}

func TestLogDepartureLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.c.LogDepartureLine(ctx, "P2", "KGP-BBS")
	assert.ErrorIs(t, err, ErrConflict)

	f.occupy(t, "12345", "P2")
	id, err := f.c.LogDepartureLine(ctx, "P2", "KGP-BBS")
	require.NoError(t, err)
	assert.Equal(t, "12345", id)
	_, err = f.c.LogDepartureLine(ctx, "P2", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, f.c.Close())
	recs, _ := f.audit.Query(ctx, audit.Query{})
	var found bool
	for _, r := range recs {
		if r.Action == audit.ActionDepartLine && r.Line == "KGP-BBS" && r.TrainID == "12345" {
			found = true
		}
	}
	assert.True(t, found, "departure line not audited")
	assert.Equal(t, model.StateOccupied, f.resource("P2").State)
}

func TestErrorMessageNamesInvariant(t *testing.T) {
	err := conflict(OpAssign, "resource %s is occupied by train %s", "P1", "123")
	assert.Equal(t, "assign: resource P1 is occupied by train 123", err.Error())
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, OpAssign, e.Op)
}

func rosterIDs(s Snapshot) []string {
	out := make([]string, 0, len(s.Roster))
	for _, r := range s.Roster {
		out = append(out, r.TrainID)
	}
	return out
}
