package router

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_LIFOReuse(t *testing.T) {
	t.Parallel()

	var created int
	pool := NewPool(2, time.Minute, func() *http.Client {
		created++
		return &http.Client{}
	})

	a := pool.Get()
	b := pool.Get()
	assert.Equal(t, 2, created)

	pool.Put(a)
	pool.Put(b)
	assert.Equal(t, 2, pool.Len())

	// LIFO: the most recently released (b) comes back first.
	got := pool.Get()
	assert.Same(t, b, got)
	assert.Equal(t, 1, pool.Len())
}

func TestPool_CapacityEviction(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, time.Minute, func() *http.Client { return &http.Client{} })
	pool.Put(&http.Client{})
	pool.Put(&http.Client{})
	assert.Equal(t, 1, pool.Len())
}

func TestPool_IdleEviction(t *testing.T) {
	t.Parallel()

	pool := NewPool(2, time.Millisecond, func() *http.Client { return &http.Client{} })
	pool.Put(&http.Client{})
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, pool.Len())
}

func TestPools_PerURL(t *testing.T) {
	t.Parallel()

	pools := NewPools(2, time.Minute)
	a := pools.For("http://backend-a")
	b := pools.For("http://backend-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, pools.For("http://backend-a"))
}
