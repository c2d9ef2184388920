package actor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type idleWorker struct{}

func (idleWorker) Start(ctx context.Context, self *Ref) error            { return nil }
func (idleWorker) Receive(ctx context.Context, self *Ref, msg any) error { return nil }
func (idleWorker) Stopped(reason string)                                 {}

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry()
	a := Spawn(context.Background(), "a", idleWorker{})
	b := Spawn(context.Background(), "b", idleWorker{})
	defer a.Stop("test over")
	defer b.Stop("test over")

	got, ok := reg.Register("svc", a)
	assert.True(ok)
	assert.Same(a, got)

	// second claim loses and sees the current holder
	got, ok = reg.Register("svc", b)
	assert.False(ok)
	assert.Same(a, got)

	got, ok = reg.Lookup("svc")
	assert.True(ok)
	assert.Same(a, got)

	// stale unregister by the wrong ref is ignored
	reg.Unregister("svc", b)
	_, ok = reg.Lookup("svc")
	assert.True(ok)

	reg.Unregister("svc", a)
	_, ok = reg.Lookup("svc")
	assert.False(ok)
	assert.Equal(0, reg.Len())
}

func TestRegistryPutReplaces(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry()
	a := Spawn(context.Background(), "a", idleWorker{})
	b := Spawn(context.Background(), "b", idleWorker{})
	defer a.Stop("test over")
	defer b.Stop("test over")

	reg.Put("svc", a)
	reg.Put("svc", b)
	got, ok := reg.Lookup("svc")
	assert.True(ok)
	assert.Same(b, got)
}

// Concurrent first contact for the same key must produce exactly one
// registered actor. Run with -race.
func TestRegistryLookupOrCreateRace(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry()
	var created sync.Map
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, _ := reg.LookupOrCreate("user/room", func() *Ref {
				ref := Spawn(context.Background(), "user/room", idleWorker{})
				created.Store(ref, true)
				return ref
			})
			assert.NotNil(ref)
		}()
	}
	wg.Wait()

	n := 0
	created.Range(func(k, v any) bool {
		n++
		k.(*Ref).Stop("test over")
		return true
	})
	assert.Equal(1, n)
	assert.Equal(1, reg.Len())
}
