package store

import (
	"context"
	"time"
)

// Observer records how long gateway operations take
type Observer interface {
	TrackDBOperation(operationType string) func(startTime time.Time)
}

type instrumented struct {
	Store
	obs Observer
}

// Instrument wraps s so every View, Update and Ping is timed by obs
func Instrument(s Store, obs Observer) Store {
	if obs == nil {
		return s
	}
	return &instrumented{Store: s, obs: obs}
}

func (i *instrumented) View(ctx context.Context, fn func(r Repository) error) error {
	defer i.obs.TrackDBOperation("view")(time.Now())
	return i.Store.View(ctx, fn)
}

func (i *instrumented) Update(ctx context.Context, fn func(r Repository) error) error {
	defer i.obs.TrackDBOperation("update")(time.Now())
	return i.Store.Update(ctx, fn)
}

func (i *instrumented) Ping(ctx context.Context) error {
	defer i.obs.TrackDBOperation("ping")(time.Now())
	return i.Store.Ping(ctx)
}
