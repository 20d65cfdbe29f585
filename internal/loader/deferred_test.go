package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferred(t *testing.T) {
	t.Run("settles once", func(t *testing.T) {
		d := newDeferred[int]()
		assert.False(t, d.Settled())

		d.resolve(1)
		d.resolve(2)
		d.reject(errors.New("late"))

		v, err := d.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		assert.True(t, d.Settled())
	})

	t.Run("wait honours the context", func(t *testing.T) {
		d := newDeferred[int]()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := d.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, d.Settled())
	})

	t.Run("rejected", func(t *testing.T) {
		errBoom := errors.New("boom")
		d := rejected[string](errBoom)
		select {
		case <-d.Done():
		default:
			t.Fatal("expected settled deferred")
		}
		_, err := d.Wait(context.Background())
		assert.ErrorIs(t, err, errBoom)
	})
}
