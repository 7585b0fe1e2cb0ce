package motion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// LoadRecording reads a motion log written as one JSON sample per line.
func LoadRecording(r io.Reader) ([]Sample, error) {
	dec := json.NewDecoder(r)
	var samples []Sample
	for {
		var s Sample
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("motion: reading recording sample %d: %w", len(samples)+1, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// ReplaySensor plays back a recorded motion log, one sample per tick, and
// wraps around at the end of the recording.
type ReplaySensor struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	subs    map[int]func()
	nextSub int
}

func NewReplaySensor(samples []Sample) *ReplaySensor {
	return &ReplaySensor{samples: samples, subs: make(map[int]func())}
}

// RequestPermission is granted when there is anything to replay.
func (r *ReplaySensor) RequestPermission(ctx context.Context) (bool, error) {
	return len(r.samples) > 0, nil
}

func (r *ReplaySensor) Subscribe(interval time.Duration, fn func(Sample)) (func(), error) {
	if interval <= 0 {
		return nil, fmt.Errorf("motion: replay interval must be positive, got %s", interval)
	}
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if s, ok := r.take(); ok {
					fn(s)
				}
			}
		}
	}()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
		stop()
	}, nil
}

func (r *ReplaySensor) take() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return Sample{}, false
	}
	s := r.samples[r.next%len(r.samples)]
	r.next++
	return s, true
}

// StopAll ends every open subscription.
func (r *ReplaySensor) StopAll() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[int]func())
	r.mu.Unlock()
	for _, stop := range subs {
		stop()
	}
	return nil
}
