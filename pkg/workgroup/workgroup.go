package workgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type workgroup struct {
	ctx   context.Context
	group errgroup.Group
}

// WithContext creates a group whose workers share ctx.
func WithContext(ctx context.Context) *workgroup {
	return &workgroup{
		ctx:   ctx,
		group: errgroup.Group{},
	}
}

// Work starts fn as a worker in the group.
func (g *workgroup) Work(fn func(context.Context) error) {
	g.group.Go(func() error {
		return fn(g.ctx)
	})
}

// Wait blocks until all workers return and reports the first error.
func (g *workgroup) Wait() error {
	return g.group.Wait()
}
