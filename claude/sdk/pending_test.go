package sdk

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestPendingTableResolve(t *testing.T) {
	p := newPendingTable()

	ch, err := p.register("a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.register("a"); !errors.Is(err, ErrControlProtocol) {
		t.Errorf("duplicate register = %v, want ErrControlProtocol", err)
	}

	if !p.resolve("a", controlResult{errMsg: "x", isError: true}) {
		t.Fatal("resolve reported no waiter")
	}
	res := <-ch
	if !res.isError || res.errMsg != "x" {
		t.Errorf("result = %+v", res)
	}

	// Single-use: the second answer has no taker.
	if p.resolve("a", controlResult{}) {
		t.Error("resolved the same id twice")
	}
	if p.resolve("never-sent", controlResult{}) {
		t.Error("resolved an unknown id")
	}
	if n := p.len(); n != 0 {
		t.Errorf("len = %d", n)
	}
}

func TestPendingTableRemoveAndCloseAll(t *testing.T) {
	p := newPendingTable()

	if _, err := p.register("gone"); err != nil {
		t.Fatal(err)
	}
	p.remove("gone")
	if p.resolve("gone", controlResult{}) {
		t.Error("resolved a removed slot")
	}

	chs := make([]<-chan controlResult, 3)
	for i, id := range []string{"a", "b", "c"} {
		ch, err := p.register(id)
		if err != nil {
			t.Fatal(err)
		}
		chs[i] = ch
	}

	p.closeAll()
	p.closeAll()

	for i, ch := range chs {
		if _, ok := <-ch; ok {
			t.Errorf("slot %d delivered a value after closeAll", i)
		}
	}
	if _, err := p.register("late"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("register after closeAll = %v", err)
	}
}

func TestPendingTableConcurrentUse(t *testing.T) {
	p := newPendingTable()
	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8"}

	chs := map[string]<-chan controlResult{}
	for _, id := range ids {
		ch, err := p.register(id)
		if err != nil {
			t.Fatal(err)
		}
		chs[id] = ch
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.resolve(id, controlResult{errMsg: id})
		}()
	}
	wg.Wait()

	for id, ch := range chs {
		if res := <-ch; res.errMsg != id {
			t.Errorf("slot %s got %q", id, res.errMsg)
		}
	}
}

func TestResponseQueue(t *testing.T) {
	var q responseQueue
	q.push("a")
	q.push("b")

	lines := q.drain()
	if !reflect.DeepEqual(lines, []string{"a", "b"}) {
		t.Fatalf("drain = %v", lines)
	}
	if q.len() != 0 {
		t.Errorf("len after drain = %d", q.len())
	}

	q.push("c")
	q.requeue(lines[1:])
	if got := q.drain(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("after requeue = %v", got)
	}
	q.requeue(nil)
	if q.len() != 0 {
		t.Errorf("requeue(nil) changed the queue")
	}
}

func TestCallbackRegistry(t *testing.T) {
	r := newCallbackRegistry(nil)
	if r.permissionHandler() != nil {
		t.Error("expected no permission handler")
	}

	var got string
	h := HookCallback(func(context.Context, HookInput, *string) (HookOutput, error) {
		got = "called"
		return HookOutput{}, nil
	})

	first := r.registerHook(h)
	second := r.registerHook(h)
	if first != "hook_0" || second != "hook_1" {
		t.Errorf("ids = %s, %s", first, second)
	}

	handler, ok := r.hook(second)
	if !ok {
		t.Fatal("registered hook not found")
	}
	if _, err := handler.HandleHook(context.Background(), UnknownHookInput{}, nil); err != nil || got != "called" {
		t.Errorf("HandleHook = %v, got %q", err, got)
	}
	if _, ok := r.hook("hook_9"); ok {
		t.Error("found a hook that was never registered")
	}
}
