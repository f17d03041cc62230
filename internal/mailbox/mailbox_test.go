package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsZeroDepth(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDepth))
}

func TestMailbox_FIFO(t *testing.T) {
	m, err := New(4)
	require.NoError(t, err)
	ctx := context.Background()

	for _, w := range []uint32{1, 2, 3} {
		require.NoError(t, m.Put(ctx, w))
	}
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 4, m.Cap())

	for _, want := range []uint32{1, 2, 3} {
		got, err := m.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, ok := m.TryGet()
	assert.False(t, ok)
}

func TestMailbox_PutBlocksWhenFull(t *testing.T) {
	m, err := New(1)
	require.NoError(t, err)
	require.NoError(t, m.Put(context.Background(), 7))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = m.Put(ctx, 8)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailbox_GetBlocksUntilPut(t *testing.T) {
	m, err := New(2)
	require.NoError(t, err)

	got := make(chan uint32, 1)
	go func() {
		w, err := m.Get(context.Background())
		if err == nil {
			got <- w
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Put(context.Background(), 0x1ff))

	select {
	case w := <-got:
		assert.Equal(t, uint32(0x1ff), w)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Put")
	}
}

func TestMailbox_CloseWakesWaiters(t *testing.T) {
	m, err := New(1)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Get(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	m.Close()
	m.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake on Close")
	}
	assert.True(t, m.Closed())
	assert.ErrorIs(t, m.Put(context.Background(), 1), ErrClosed)
}

func TestMailbox_GetDrainsAfterClose(t *testing.T) {
	m, err := New(2)
	require.NoError(t, err)
	require.NoError(t, m.Put(context.Background(), 42))
	m.Close()

	w, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(42), w)

	_, err = m.Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
