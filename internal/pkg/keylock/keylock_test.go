package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	kl := New()
	counter := 0

	var wg sync.WaitGroup
	for _i := 0; _i < 50; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("room:public")
			defer unlock()

			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, kl.Len(), "expected entries to be released")
}

func TestLockDoesNotBlockOtherKeys(t *testing.T) {
	kl := New()

	unlockA := kl.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := kl.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout: lock on key b blocked behind key a")
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	kl := New()

	unlock := kl.Lock("k")
	unlock()
	unlock()

	assert.Equal(t, 0, kl.Len())
}

func TestLockAllOpposedOrders(t *testing.T) {
	kl := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := []string{"a", "b", "a"}
			if i%2 == 1 {
				keys = []string{"b", "a"}
			}
			unlock := kl.LockAll(keys...)
			defer unlock()
			time.Sleep(time.Microsecond)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("LockAll deadlocked")
	}
	assert.Zero(t, kl.Len())
}

func TestLockAllHoldsEveryKey(t *testing.T) {
	kl := New()
	unlock := kl.LockAll("x", "y")

	acquired := make(chan struct{})
	go func() {
		release := kl.Lock("y")
		release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("key y was not held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-acquired
}
