// ABOUTME: Tests for the TTL dedupe cache: check/mark semantics, expiry, size eviction
// ABOUTME: Uses short TTLs so expiry is observable without the background sweeper

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Mark(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	c.Mark("k1")
	assert.True(t, c.Check("k1"))
	assert.False(t, c.Check("k2"))
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(20*time.Millisecond, 100)
	defer c.Close()

	c.Mark("k1")
	assert.True(t, c.Check("k1"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Check("k1"), "expired keys read as unseen")
	c.Mark("k1")
	assert.True(t, c.Check("k1"), "an expired key can be re-marked")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.Mark(fmt.Sprintf("k%d", i))
	}
	c.Mark("k3")

	assert.False(t, c.Check("k0"), "oldest entry evicted")
	for i := 1; i <= 3; i++ {
		assert.True(t, c.Check(fmt.Sprintf("k%d", i)))
	}
}

func TestCache_ReMarkRefreshesOrder(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	c.Mark("a")
	c.Mark("b")
	c.Mark("a") // a is now the newest
	c.Mark("c") // evicts b, not a

	assert.True(t, c.Check("a"))
	assert.False(t, c.Check("b"))
	assert.True(t, c.Check("c"))
}

func TestCache_ConcurrentMarkAndCheck(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Mark(key)
			c.Check(key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		assert.True(t, c.Check(fmt.Sprintf("k%d", i)))
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "t1|whatsapp|msg-1", Key("t1", "whatsapp", "msg-1"))
	assert.NotEqual(t, Key("t1", "whatsapp", "m"), Key("t2", "whatsapp", "m"))
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
