package endpoint

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, endpoints ...string) (*Pool, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p, err := NewPool(endpoints, WithClock(clock.Now))
	require.NoError(t, err)
	return p, clock
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(nil)
	require.Error(t, err)

	_, err = NewPool([]string{"ftp://example.com"})
	require.Error(t, err)

	_, err = NewPool([]string{"https://a.example", "https://a.example/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	p, err := NewPool([]string{" https://a.example/swap/v1/ "})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/swap/v1"}, p.Endpoints())
}

func TestNext_RotatesCursor(t *testing.T) {
	p, _ := newTestPool(t, "https://a", "https://b", "https://c")

	var got []string
	for i := 0; i < 4; i++ {
		ep, ok := p.Next()
		require.True(t, ok)
		got = append(got, ep)
	}
	assert.Equal(t, []string{"https://a", "https://b", "https://c", "https://a"}, got)
}

func TestNext_SkipsCoolingEndpoints(t *testing.T) {
	p, clock := newTestPool(t, "https://a", "https://b")
	p.MarkCooldown("https://a", clock.Now().Add(time.Second))

	ep, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "https://b", ep)

	p.MarkCooldown("https://b", clock.Now().Add(time.Second))
	_, ok = p.Next()
	assert.False(t, ok, "all endpoints cooling")

	clock.Advance(time.Second)
	ep, ok = p.Next()
	require.True(t, ok)
	assert.Equal(t, "https://a", ep)
}

func TestMarkCooldown_NeverShortens(t *testing.T) {
	p, clock := newTestPool(t, "https://a")
	long := clock.Now().Add(time.Minute)
	p.MarkCooldown("https://a", long)
	p.MarkCooldown("https://a", clock.Now().Add(time.Second))
	assert.Equal(t, long, p.CooldownUntil("https://a"))

	p.MarkCooldown("https://unknown", long)
	assert.True(t, p.CooldownUntil("https://unknown").IsZero())
}

func TestMarkRateLimited_UsesStrikeCount(t *testing.T) {
	p, clock := newTestPool(t, "https://a")

	var seen []int
	delay := func(n int) time.Duration {
		seen = append(seen, n)
		return time.Duration(n+1) * time.Second
	}

	until := p.MarkRateLimited("https://a", delay)
	assert.Equal(t, clock.Now().Add(time.Second), until)

	clock.Advance(time.Second)
	until = p.MarkRateLimited("https://a", delay)
	assert.Equal(t, clock.Now().Add(2*time.Second), until)
	assert.Equal(t, []int{0, 1}, seen)

	p.RecordSuccess("https://a")
	clock.Advance(2 * time.Second)
	p.MarkRateLimited("https://a", delay)
	assert.Equal(t, []int{0, 1, 0}, seen, "success resets the streak")
}

func TestPass_VisitsEachEndpointOnce(t *testing.T) {
	p, clock := newTestPool(t, "https://a", "https://b", "https://c")
	_, _ = p.Next() // cursor -> b

	pass := p.Pass()
	var got []string
	for {
		ep, ok := pass.Next()
		if !ok {
			break
		}
		got = append(got, ep)
		// another caller moving the cursor must not affect this walk
		_, _ = p.Next()
	}
	assert.Equal(t, []string{"https://b", "https://c", "https://a"}, got)

	p.MarkCooldown("https://b", clock.Now().Add(time.Minute))
	pass = p.Pass()
	got = got[:0]
	for {
		ep, ok := pass.Next()
		if !ok {
			break
		}
		got = append(got, ep)
	}
	assert.NotContains(t, got, "https://b")
	assert.Len(t, got, 2)
}

func TestRecordSuccess_FavorsEndpoint(t *testing.T) {
	p, _ := newTestPool(t, "https://a", "https://b")
	p.RecordSuccess("https://b")
	assert.Equal(t, "https://b", p.Current())

	health := p.Health()
	require.Len(t, health, 2)
	assert.True(t, health[1].Current)
	assert.Equal(t, 1, health[1].Successes)
}

func TestHealth_ReportsCooldownAndFailures(t *testing.T) {
	p, clock := newTestPool(t, "https://a", "https://b")
	p.MarkCooldown("https://a", clock.Now().Add(time.Minute))
	p.RecordFailure("https://b", "status 500")

	health := p.Health()
	assert.False(t, health[0].Available)
	assert.Equal(t, clock.Now().Add(time.Minute), health[0].CooldownUntil)
	assert.True(t, health[1].Available)
	assert.Equal(t, 1, health[1].Failures)
	assert.Equal(t, "status 500", health[1].LastError)
	assert.Equal(t, "https://b", p.Current())
}

func TestPool_ConcurrentAccess(t *testing.T) {
	p, clock := newTestPool(t, "https://a", "https://b", "https://c")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ep, ok := p.Next()
				if !ok {
					continue
				}
				switch (i + j) % 3 {
				case 0:
					p.MarkRateLimited(ep, func(int) time.Duration { return time.Millisecond })
				case 1:
					p.RecordFailure(ep, "boom")
				default:
					p.RecordSuccess(ep)
				}
				_ = p.Health()
			}
		}(i)
	}
	wg.Wait()

	clock.Advance(time.Hour)
	assert.NotEmpty(t, p.Current())
}
