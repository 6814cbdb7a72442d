package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMapSerializesSameKey(t *testing.T) {
	var (
		m       Map[int]
		wg      sync.WaitGroup
		counter int
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(1)
			defer unlock()

			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}

	wg.Wait()
	assert.Equal(t, 50, counter, "expected no lost updates")
	assert.Equal(t, 0, m.Len(), "expected entries to be released")
}

func TestMapDifferentKeysDoNotBlock(t *testing.T) {
	var m Map[string]

	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on unrelated key blocked")
	}
}

func TestMapBlocksSameKey(t *testing.T) {
	var m Map[string]

	unlock := m.Lock("a")
	acquired := make(chan struct{})
	go func() {
		u := m.Lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}
