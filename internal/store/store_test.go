package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
)

var ctx = context.Background()

func TestCreateRejectsInvalid(t *testing.T) {
	s := New()
	for _, tc := range []struct {
		user, drug string
		target     int64
	}{
		{"u1", "", 100},
		{"u1", "   ", 100},
		{"u1", "Ibuprofen", 0},
		{"u1", "Ibuprofen", -5},
		{"", "Ibuprofen", 100},
	} {
		_, err := s.Create(ctx, tc.user, tc.drug, tc.target)
		assert.ErrorIs(t, err, ErrInvalidAlert, "%+v", tc)
	}
	assert.Empty(t, s.WatchedDrugs())
}

func TestEvaluateFiresRepeatedlyUntilRemoved(t *testing.T) {
	s := New()
	id, err := s.Create(ctx, "u1", "Paracetamol", 20000)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	fired := s.Evaluate(ctx, "Paracetamol", 18000)
	require.Len(t, fired, 1)
	assert.Equal(t, id, fired[0].ID)
	require.NotNil(t, fired[0].LastObservedPrice)
	assert.Equal(t, int64(18000), *fired[0].LastObservedPrice)

	fired = s.Evaluate(ctx, "paracetamol", 15000)
	require.Len(t, fired, 1, "no auto-deactivation")
	a, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(15000), *a.LastObservedPrice)
	assert.True(t, a.Active)

	assert.True(t, s.Remove(ctx, "u1", id))
	assert.Empty(t, s.Evaluate(ctx, "Paracetamol", 100))
}

func TestEvaluateAboveTargetOnlyRecordsPrice(t *testing.T) {
	s := New()
	id, _ := s.Create(ctx, "u1", "Ibuprofen", 10000)
	assert.Empty(t, s.Evaluate(ctx, "Ibuprofen", 10001))
	a, _ := s.Get(id)
	require.NotNil(t, a.LastObservedPrice)
	assert.Equal(t, int64(10001), *a.LastObservedPrice)

	assert.Len(t, s.Evaluate(ctx, "Ibuprofen", 10000), 1, "equal to target fires")
}

func TestEvaluateMatchesNormalizedName(t *testing.T) {
	s := New()
	s.Create(ctx, "u1", "  Omeprazol   KRKA ", 5000)
	s.Create(ctx, "u2", "omeprazol krka", 3000)
	s.Create(ctx, "u3", "Omeprazol", 9000)
	fired := s.Evaluate(ctx, "OMEPRAZOL krka", 4000)
	require.Len(t, fired, 1)
	assert.Equal(t, "u1", fired[0].UserID)
	assert.Empty(t, s.Evaluate(ctx, "", 1))
}

func TestRemoveChecksOwner(t *testing.T) {
	s := New()
	id, _ := s.Create(ctx, "u1", "Setirizin", 100)
	assert.False(t, s.Remove(ctx, "u2", id))
	assert.False(t, s.Remove(ctx, "u1", "missing"))
	assert.Len(t, s.List("u1"), 1)
	assert.True(t, s.Remove(ctx, "u1", id))
	assert.False(t, s.Remove(ctx, "u1", id))
	assert.Empty(t, s.List("u1"))
}

func TestDeactivateStopsFiring(t *testing.T) {
	s := New()
	id, _ := s.Create(ctx, "u1", "Amoksitsillin", 30000)
	assert.False(t, s.Deactivate(ctx, "u2", id))
	assert.True(t, s.Deactivate(ctx, "u1", id))
	assert.False(t, s.Deactivate(ctx, "u1", id))
	assert.Empty(t, s.Evaluate(ctx, "Amoksitsillin", 1))
	assert.Empty(t, s.WatchedDrugs())
	a, _ := s.Get(id)
	assert.False(t, a.Active)
	assert.Nil(t, a.LastObservedPrice)
}

func TestListAndWatchedDrugs(t *testing.T) {
	s := New()
	s.Create(ctx, "u1", "Ibuprofen", 1)
	s.Create(ctx, "u1", "Paracetamol", 1)
	s.Create(ctx, "u2", "ibuprofen", 1)
	assert.Len(t, s.List("u1"), 2)
	assert.Len(t, s.List("u2"), 1)
	assert.Empty(t, s.List("nobody"))
	assert.Len(t, s.WatchedDrugs(), 2)
}

func TestReturnedAlertsAreCopies(t *testing.T) {
	s := New()
	id, _ := s.Create(ctx, "u1", "Ibuprofen", 500)
	fired := s.Evaluate(ctx, "Ibuprofen", 400)
	*fired[0].LastObservedPrice = 1
	a, _ := s.Get(id)
	assert.Equal(t, int64(400), *a.LastObservedPrice)
}

func TestConcurrentCreateAndEvaluate(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Create(ctx, fmt.Sprintf("u%d", i), "Ibuprofen", 1000); err != nil {
				t.Errorf("create: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			s.Evaluate(ctx, "Ibuprofen", 900)
		}()
	}
	wg.Wait()
	if got := len(s.Evaluate(ctx, "Ibuprofen", 900)); got != 50 {
		t.Fatalf("expected 50 fired, got %d", got)
	}
}

func TestFilePersisterSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.json")

	s, err := Open(ctx, NewFilePersister(path))
	require.NoError(t, err)
	keep, _ := s.Create(ctx, "u1", "Paracetamol", 20000)
	gone, _ := s.Create(ctx, "u1", "Ibuprofen", 100)
	off, _ := s.Create(ctx, "u2", "Setirizin", 100)
	s.Evaluate(ctx, "Paracetamol", 18000)
	require.True(t, s.Remove(ctx, "u1", gone))
	require.True(t, s.Deactivate(ctx, "u2", off))

	reopened, err := Open(ctx, NewFilePersister(path))
	require.NoError(t, err)
	a, ok := reopened.Get(keep)
	require.True(t, ok)
	assert.Equal(t, int64(20000), a.TargetPrice)
	require.NotNil(t, a.LastObservedPrice)
	assert.Equal(t, int64(18000), *a.LastObservedPrice)
	_, ok = reopened.Get(gone)
	assert.False(t, ok)
	b, ok := reopened.Get(off)
	require.True(t, ok)
	assert.False(t, b.Active)
	assert.Equal(t, []string{"Paracetamol"}, reopened.WatchedDrugs())
}

func TestFilePersisterMissingFileIsEmpty(t *testing.T) {
	s, err := Open(ctx, NewFilePersister(filepath.Join(t.TempDir(), "none.json")))
	require.NoError(t, err)
	assert.Empty(t, s.WatchedDrugs())
}

// pausingPersister blocks the next Save after arm until release is closed.
type pausingPersister struct {
	Persister
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (p *pausingPersister) arm() {
	p.mu.Lock()
	p.entered = make(chan struct{})
	p.release = make(chan struct{})
	p.mu.Unlock()
}

func (p *pausingPersister) Save(ctx context.Context, alerts ...model.PriceAlert) error {
	p.mu.Lock()
	entered, release := p.entered, p.release
	p.entered = nil
	p.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	return p.Persister.Save(ctx, alerts...)
}

func TestSlowEvaluateSaveCannotOverwriteLaterMutation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(s *Store, id string) bool
		check  func(t *testing.T, reopened *Store, id string)
	}{
		{
			name:   "remove",
			mutate: func(s *Store, id string) bool { return s.Remove(ctx, "u1", id) },
			check: func(t *testing.T, reopened *Store, id string) {
				_, ok := reopened.Get(id)
				assert.False(t, ok, "removed alert reloaded")
				assert.Empty(t, reopened.List("u1"))
			},
		},
		{
			name:   "deactivate",
			mutate: func(s *Store, id string) bool { return s.Deactivate(ctx, "u1", id) },
			check: func(t *testing.T, reopened *Store, id string) {
				a, ok := reopened.Get(id)
				require.True(t, ok)
				assert.False(t, a.Active, "deactivated alert reloaded as active")
				assert.Empty(t, reopened.Evaluate(ctx, "Paratsetamol", 1))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "alerts.json")
			pp := &pausingPersister{Persister: NewFilePersister(path)}
			s, err := Open(ctx, pp)
			require.NoError(t, err)
			id, err := s.Create(ctx, "u1", "Paratsetamol", 20000)
			require.NoError(t, err)

			pp.arm()
			entered, release := pp.entered, pp.release
			evalDone := make(chan struct{})
			go func() {
				defer close(evalDone)
				s.Evaluate(ctx, "Paratsetamol", 15000)
			}()
			<-entered

			mutated := make(chan bool, 1)
			go func() { mutated <- tc.mutate(s, id) }()
			select {
			case <-mutated:
				t.Fatal("mutation finished while an earlier save was still pending")
			case <-time.After(50 * time.Millisecond):
			}
			close(release)
			<-evalDone
			require.True(t, <-mutated)

			reopened, err := Open(ctx, NewFilePersister(path))
			require.NoError(t, err)
			tc.check(t, reopened, id)
		})
	}
}

func TestListDoesNotWaitOnPersister(t *testing.T) {
	pp := &pausingPersister{Persister: NewFilePersister(filepath.Join(t.TempDir(), "alerts.json"))}
	s, err := Open(ctx, pp)
	require.NoError(t, err)
	_, err = s.Create(ctx, "u1", "Ibuprofen", 100)
	require.NoError(t, err)

	pp.arm()
	entered, release := pp.entered, pp.release
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Evaluate(ctx, "Ibuprofen", 50)
	}()
	<-entered
	got := s.List("u1")
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LastObservedPrice)
	assert.Equal(t, int64(50), *got[0].LastObservedPrice)
	close(release)
	<-done
}
