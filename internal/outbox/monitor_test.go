package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticMonitorNotifiesOnTransitions(t *testing.T) {
	m := NewStaticMonitor(false)
	var calls []bool
	cancel := m.OnChange(func(online bool) { calls = append(calls, online) })

	m.Set(false)
	m.Set(true)
	m.Set(true)
	m.Set(false)
	assert.Equal(t, []bool{true, false}, calls)

	cancel()
	m.Set(true)
	assert.Len(t, calls, 2)
	assert.True(t, m.Online())
}

func TestProbeMonitorCheck(t *testing.T) {
	var healthy atomic.Bool
	p := NewProbeMonitor(func(ctx context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	}, 0)

	var ups int
	p.OnChange(func(online bool) {
		if online {
			ups++
		}
	})

	assert.False(t, p.Check(context.Background()))
	healthy.Store(true)
	assert.True(t, p.Check(context.Background()))
	assert.True(t, p.Check(context.Background()))
	assert.True(t, p.Online())
	assert.Equal(t, 1, ups)
}
