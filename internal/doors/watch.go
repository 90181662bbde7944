package doors

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// Watch feeds bus change notifications for every door and service toggle
// into the coordinator until ctx is done. A GS or FM door signal that
// changes the tracked flag is mirrored to the other side. Watch blocks and
// returns ctx.Err().
func (c *Coordinator) Watch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, door := range AllDoors() {
		keys, ok := c.keys.Door(door.String())
		if !ok {
			continue
		}
		g.Go(func() error {
			return c.watchKey(ctx, keys.GS, func(v varbus.Value) {
				c.onSignal(ctx, door, v.Bool(), SourceGS, SourceFM, keys.FM)
			})
		})
		g.Go(func() error {
			return c.watchKey(ctx, keys.FM, func(v varbus.Value) {
				c.onSignal(ctx, door, v.Bool(), SourceFM, SourceGS, keys.GS)
			})
		})
	}

	for i, key := range c.keys.ServiceToggles {
		g.Go(func() error {
			return c.watchKey(ctx, key, func(v varbus.Value) {
				c.HandleServiceToggle(ctx, i, v.Bool())
			})
		})
	}

	return g.Wait()
}

func (c *Coordinator) watchKey(ctx context.Context, key string, fn func(varbus.Value)) error {
	ch, cancel := c.bus.Subscribe(key)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-ch:
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			fn(v)
		}
	}
}

func (c *Coordinator) onSignal(ctx context.Context, door DoorType, open bool, source, mirror Source, mirrorKey string) {
	c.markSeen(door, source, open)
	if !c.SetDoorState(door, open, source) {
		return
	}
	if err := varbus.WriteBool(ctx, c.bus, mirrorKey, open); err != nil {
		c.logFailure("door mirror failed", err, door, open)
		return
	}
	c.markSeen(door, mirror, open)
}
