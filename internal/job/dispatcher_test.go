package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher_Drain(t *testing.T) {
	d := NewDispatcher(3)
	var got []int
	for i := 1; i <= 3; i++ {
		i := i
		d.Post(func() { got = append(got, i) })
	}

	assert.Equal(t, 3, d.Drain())
	assert.Equal(t, []int{1, 2, 3}, got, "callbacks run in posting order")
	assert.Equal(t, 0, d.Drain())
}

func TestDispatcher_RunOnceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDispatcher(1).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_RunUntil(t *testing.T) {
	d := NewDispatcher(1)
	done := make(chan struct{})
	ran := false
	d.Post(func() {
		ran = true
		close(done)
	})

	assert.NoError(t, d.RunUntil(context.Background(), done))
	assert.True(t, ran)
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	d := NewDispatcher(2)
	ran := false
	d.Post(func() { panic("boom") })
	d.Post(func() { ran = true })

	assert.NotPanics(t, func() { d.Drain() })
	assert.True(t, ran, "callbacks after a panic still run")
}
