// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLimiter(def Quota) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(def)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl, clock := testLimiter(Quota{Limit: 5, Window: time.Second})

	// Admissions at 0, 200, 400, 600, 800ms fill the quota.
	for i := 0; i < 5; i++ {
		if err := rl.Check("vendor-a", "analyze"); err != nil {
			t.Fatalf("request %d: expected admission, got %v", i, err)
		}
		clock.Advance(200 * time.Millisecond)
	}

	// At t=1000ms the first admission (t=0) has aged out, so one more fits.
	if err := rl.Check("vendor-a", "analyze"); err != nil {
		t.Fatalf("expected admission after the oldest aged out, got %v", err)
	}

	// The window now holds 200..1000ms: full again.
	err := rl.Check("vendor-a", "analyze")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if rle.Principal != "vendor-a" || rle.OperationKey != "analyze" {
		t.Errorf("error carries wrong key: %+v", rle)
	}
	if rle.Limit != 5 || rle.Window != time.Second {
		t.Errorf("error carries wrong quota: %+v", rle)
	}
}

func TestRateLimiter_DenialsDoNotExtendWindow(t *testing.T) {
	rl, clock := testLimiter(Quota{Limit: 2, Window: time.Second})

	rl.Check("vendor-a", "analyze")
	rl.Check("vendor-a", "analyze")

	// Hammering while over quota must not push recovery further out.
	for i := 0; i < 10; i++ {
		clock.Advance(50 * time.Millisecond)
		if err := rl.Check("vendor-a", "analyze"); err == nil {
			t.Fatalf("denied request %d was admitted", i)
		}
	}

	clock.Advance(time.Second)
	if err := rl.Check("vendor-a", "analyze"); err != nil {
		t.Errorf("expected admission after the window passed, got %v", err)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := testLimiter(Quota{Limit: 1, Window: time.Minute})

	if err := rl.Check("vendor-a", "analyze"); err != nil {
		t.Fatalf("unexpected denial: %v", err)
	}
	if err := rl.Check("vendor-a", "analyze"); err == nil {
		t.Fatal("expected denial for exhausted key")
	}

	// Same principal, different operation.
	if err := rl.Check("vendor-a", "recommend"); err != nil {
		t.Errorf("operation keys share a window: %v", err)
	}
	// Same operation, different principal.
	if err := rl.Check("vendor-b", "analyze"); err != nil {
		t.Errorf("principals share a window: %v", err)
	}
}

func TestRateLimiter_PerOperationQuota(t *testing.T) {
	rl, _ := testLimiter(Quota{Limit: 10, Window: time.Minute})
	rl.SetQuota("expensive", Quota{Limit: 1, Window: time.Minute})

	if err := rl.Check("vendor-a", "expensive"); err != nil {
		t.Fatalf("unexpected denial: %v", err)
	}
	err := rl.Check("vendor-a", "expensive")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if rle.Limit != 1 {
		t.Errorf("expected the override quota in the error, got %d", rle.Limit)
	}

	// The default quota still applies elsewhere.
	for i := 0; i < 10; i++ {
		if err := rl.Check("vendor-a", "cheap"); err != nil {
			t.Fatalf("request %d: expected admission under default quota, got %v", i, err)
		}
	}
}

func TestRateLimiter_ConcurrentAdmissionIsExact(t *testing.T) {
	rl, _ := testLimiter(Quota{Limit: 25, Window: time.Minute})

	const workers = 100
	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if rl.Check("vendor-a", "analyze") == nil {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := admitted.Load(); got != 25 {
		t.Errorf("expected exactly 25 admissions, got %d", got)
	}
}

func TestRateLimiter_Usage(t *testing.T) {
	rl, clock := testLimiter(Quota{Limit: 5, Window: time.Second})

	rl.Check("vendor-a", "analyze")
	rl.Check("vendor-a", "analyze")
	if got := rl.Usage("vendor-a", "analyze"); got != 2 {
		t.Errorf("expected usage 2, got %d", got)
	}

	clock.Advance(2 * time.Second)
	if got := rl.Usage("vendor-a", "analyze"); got != 0 {
		t.Errorf("expected usage 0 after the window passed, got %d", got)
	}
}
