package navigator

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/docnav/pkg/models"
)

// searchSession returns a started anonymous session over guidesTree.
func searchSession(t *testing.T, fn func(q string) ([]*models.Node, error)) (*Session, *fakeBackend, *fakeClock) {
	t.Helper()
	be := newFakeBackend(guidesTree(models.AccessPublic))
	be.searchFn = fn
	clock := &fakeClock{}
	s := NewSession(Options{
		Backend:         be,
		Credentials:     &memCredentials{},
		Location:        NewMemoryLocation("/"),
		LoginURL:        testLoginURL,
		AppURL:          testAppURL,
		SearchCacheSize: 8,
		AfterFunc:       clock.AfterFunc,
	})
	require.NoError(t, s.Start(context.Background()))
	return s, be, clock
}

func ids(nodes []*models.Node) []string {
	out := []string{}
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func hits(ids ...string) []*models.Node {
	var out []*models.Node
	for _, id := range ids {
		out = append(out, &models.Node{ID: id, Name: id, Kind: models.KindFile})
	}
	return out
}

func TestLocalSearch(t *testing.T) {
	s, be, clock := searchSession(t, nil)

	s.SetSearch("GUIDE")
	snap := s.Snapshot()
	assert.Equal(t, []string{"style"}, ids(snap.Displayed), "folder names never match")
	assert.Equal(t, 0, clock.Active())
	assert.Empty(t, be.searchCalls())

	s.SetSearch("  ")
	assert.Equal(t, []string{"guides", "a", "b", "c", "d"}, ids(s.Snapshot().Displayed), "hr is private")
}

func TestExternalSearchDebounces(t *testing.T) {
	s, be, clock := searchSession(t, func(q string) ([]*models.Node, error) {
		return hits("hit-" + q), nil
	})
	s.SetSearchMode(ModeExternal)

	s.SetSearch("a")
	s.SetSearch("ab")
	snap := s.Snapshot()
	assert.Equal(t, "ab", snap.Search.Query, "query updates immediately")
	assert.True(t, snap.Search.Loading)
	assert.Empty(t, snap.Displayed)
	assert.Equal(t, 1, clock.Active())

	clock.FireAll()
	assert.Equal(t, []string{"ab"}, be.searchCalls())
	snap = s.Snapshot()
	assert.False(t, snap.Search.Loading)
	assert.Equal(t, []string{"hit-ab"}, ids(snap.Displayed))
}

func TestExternalSearchBlankQueryNotSent(t *testing.T) {
	s, be, clock := searchSession(t, nil)
	s.SetSearchMode(ModeExternal)

	s.SetSearch("   ")
	assert.Equal(t, 0, clock.Active())
	clock.FireAll()
	assert.Empty(t, be.searchCalls())
	assert.False(t, s.Snapshot().Search.Loading)
}

func TestStaleTimerIsIgnored(t *testing.T) {
	s, be, clock := searchSession(t, nil)
	s.SetSearchMode(ModeExternal)

	s.SetSearch("a")
	s.SetSearch("ab")
	clock.FireStale(0)
	assert.Empty(t, be.searchCalls(), "superseded timer must not dispatch")
}

func TestLateResultForOldQueryIsDropped(t *testing.T) {
	release := make(chan struct{})
	var wg sync.WaitGroup
	s, be, clock := searchSession(t, func(q string) ([]*models.Node, error) {
		if q == "a" {
			<-release
		}
		return hits("hit-" + q), nil
	})
	s.SetSearchMode(ModeExternal)

	s.SetSearch("a")
	wg.Add(1)
	go func() {
		defer wg.Done()
		clock.FireAll()
	}()

	// Wait for the "a" request to be in flight before typing on.
	require.Eventually(t, func() bool { return len(be.searchCalls()) == 1 }, timeout, tick)
	s.SetSearch("ab")
	clock.FireAll()
	assert.Equal(t, []string{"hit-ab"}, ids(s.Snapshot().Displayed))

	close(release)
	wg.Wait()
	assert.Equal(t, []string{"hit-ab"}, ids(s.Snapshot().Displayed), "late result for a dropped")
}

func TestModeSwitchDiscardsInFlight(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})
	s, be, clock := searchSession(t, func(q string) ([]*models.Node, error) {
		<-release
		return hits("hit-" + q), nil
	})
	s.SetSearchMode(ModeExternal)
	s.SetSearch("style")
	go func() {
		clock.FireAll()
		close(done)
	}()
	require.Eventually(t, func() bool { return len(be.searchCalls()) == 1 }, timeout, tick)

	s.SetSearchMode(ModeLocal)
	close(release)
	<-done

	snap := s.Snapshot()
	assert.Equal(t, ModeLocal, snap.Search.Mode)
	assert.Equal(t, []string{"style"}, ids(snap.Displayed), "local display not overwritten")

	// The completed result was cached and shows when switching back, with no new request.
	s.SetSearchMode(ModeExternal)
	snap = s.Snapshot()
	assert.Equal(t, []string{"hit-style"}, ids(snap.Displayed))
	assert.False(t, snap.Search.Loading)
	assert.Equal(t, 0, clock.Active())
}

func TestModeSwitchDoesNotReissue(t *testing.T) {
	s, be, clock := searchSession(t, nil)
	s.SetSearch("guide")
	s.SetSearchMode(ModeExternal)

	assert.Equal(t, 0, clock.Active())
	assert.Empty(t, be.searchCalls())
	assert.Empty(t, s.Snapshot().Displayed)

	s.RetriggerSearch(context.Background())
	assert.Equal(t, []string{"guide"}, be.searchCalls())
}

func TestExternalSearchErrorKeepsFolder(t *testing.T) {
	s, _, clock := searchSession(t, func(q string) ([]*models.Node, error) {
		return nil, errors.New("search backend down")
	})
	s.SelectFolder("guides")
	s.SetSearchMode(ModeExternal)
	s.SetSearch("x")
	clock.FireAll()

	snap := s.Snapshot()
	assert.Equal(t, "search backend down", snap.Search.Error)
	assert.Equal(t, []string{"onboarding.md", "style"}, ids(snap.Displayed))
}

func TestExternalResultsShowFilesOnly(t *testing.T) {
	s, _, clock := searchSession(t, func(q string) ([]*models.Node, error) {
		return []*models.Node{
			{ID: "guides", Kind: models.KindFolder},
			{ID: "onboarding.md", Kind: models.KindFile},
		}, nil
	})
	s.SetSearchMode(ModeExternal)
	s.SetSearch("guides")
	clock.FireAll()

	assert.Equal(t, []string{"onboarding.md"}, ids(s.Snapshot().Displayed))
}
