package plugins

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordConn struct {
	mu    sync.Mutex
	read  []string
	texts []string
}

func (c *recordConn) SendText(ctx context.Context, toJID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *recordConn) MarkRead(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read = append(c.read, msg.ID)
	return nil
}

func (c *recordConn) readIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.read))
	copy(out, c.read)
	return out
}

type funcPlugin struct {
	name string
	fn   func(ctx context.Context, conn Conn, msg Message) error
}

func (p funcPlugin) Name() string { return p.name }

func (p funcPlugin) HandleMessage(ctx context.Context, conn Conn, msg Message) error {
	return p.fn(ctx, conn, msg)
}

func TestDispatchRunsAllPluginsInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Plugin {
		return funcPlugin{name: name, fn: func(context.Context, Conn, Message) error {
			order = append(order, name)
			return nil
		}}
	}
	reg := NewRegistry(mk("first"), mk("second"))
	reg.Register(mk("third"))

	reg.Dispatch(context.Background(), &recordConn{}, Message{ID: "m1"})

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	var ran bool
	reg := NewRegistry(
		funcPlugin{name: "erroring", fn: func(context.Context, Conn, Message) error {
			return errors.New("boom")
		}},
		funcPlugin{name: "panicking", fn: func(context.Context, Conn, Message) error {
			panic("kaboom")
		}},
		funcPlugin{name: "healthy", fn: func(context.Context, Conn, Message) error {
			ran = true
			return nil
		}},
	)

	reg.Dispatch(context.Background(), &recordConn{}, Message{ID: "m1"})

	if !ran {
		t.Fatal("a failing plugin aborted the dispatch chain")
	}
}

func TestAutoSeenMarksInboundRead(t *testing.T) {
	conn := &recordConn{}
	seen := NewAutoSeen(true)

	if err := seen.HandleMessage(context.Background(), conn, Message{ID: "m1"}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := conn.readIDs(); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("read ids = %v, want [m1]", got)
	}
}

func TestAutoSeenSkipsOwnMessages(t *testing.T) {
	conn := &recordConn{}
	seen := NewAutoSeen(true)

	if err := seen.HandleMessage(context.Background(), conn, Message{ID: "m1", FromMe: true}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := conn.readIDs(); len(got) != 0 {
		t.Fatalf("marked own message read: %v", got)
	}
}

func TestAutoSeenToggle(t *testing.T) {
	conn := &recordConn{}
	seen := NewAutoSeen(false)

	seen.HandleMessage(context.Background(), conn, Message{ID: "m1"})
	if len(conn.readIDs()) != 0 {
		t.Fatal("disabled plugin marked a message read")
	}

	seen.SetEnabled(true)
	seen.HandleMessage(context.Background(), conn, Message{ID: "m2"})
	if got := conn.readIDs(); len(got) != 1 || got[0] != "m2" {
		t.Fatalf("read ids = %v, want [m2]", got)
	}
}
