package concurrent

// Limiter hands out a fixed number of working slots.
type Limiter interface {
	// Add blocks until a working slot is free.
	Add()
	// TryAdd takes a working slot if one is free.
	TryAdd() bool
	// Done frees one working slot.
	Done()
	// Working is the number of slots taken.
	Working() int
}

type limiter struct {
	working chan struct{}
}

func NewLimiter(maxConcurrency int) Limiter {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &limiter{
		working: make(chan struct{}, maxConcurrency),
	}
}

func (in *limiter) Add() {
	in.working <- struct{}{}
}

func (in *limiter) TryAdd() bool {
	select {
	case in.working <- struct{}{}:
		return true
	default:
		return false
	}
}

func (in *limiter) Done() {
	<-in.working
}

func (in *limiter) Working() int {
	return len(in.working)
}
