package console

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOAndIdle(t *testing.T) {
	q := newQueue()

	select {
	case <-q.idleCh():
	default:
		t.Fatal("new queue should be idle")
	}

	q.push(event{kind: eventShopChanged, shopID: "A"})
	q.push(event{kind: eventShopChanged, shopID: "B"})
	idle := q.idleCh()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	e, ok := q.next(ctx)
	require.True(t, ok)
	assert.Equal(t, "A", e.shopID)
	q.done()

	select {
	case <-idle:
		t.Fatal("queue idle with pending event")
	default:
	}

	e, ok = q.next(ctx)
	require.True(t, ok)
	assert.Equal(t, "B", e.shopID)
	q.done()

	<-idle
}

func TestQueue_NextHonorsContext(t *testing.T) {
	q := newQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.next(ctx)
	assert.False(t, ok)
}

func TestQueue_PushFromHandlerDoesNotBlock(t *testing.T) {
	q := newQueue()
	for i := 0; i < 1000; i++ {
		q.push(event{kind: eventAuthenticated})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 1000; i++ {
		_, ok := q.next(ctx)
		require.True(t, ok)
		q.done()
	}
	<-q.idleCh()
}

func TestRedirects(t *testing.T) {
	var r Redirects
	_, ok := r.Take()
	assert.False(t, ok)

	r.Redirect("/")
	assert.Equal(t, "/", r.Peek())
	url, ok := r.Take()
	assert.True(t, ok)
	assert.Equal(t, "/", url)
	assert.Empty(t, r.Peek())
}
