package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLoopClosed is returned by Send once the loop has stopped.
var ErrLoopClosed = errors.New("reconciler loop closed")

// UpdateFunc observes the view after each handled message together with
// the message's error. It runs on the loop goroutine.
type UpdateFunc func(View, error)

type envelope struct {
	msg   Msg
	reply chan error
}

// Loop owns a Machine and feeds it messages from an unbounded mailbox on a
// single goroutine. Posting never blocks. Once closed, posts are dropped,
// which makes callbacks of a cancelled session harmless.
type Loop struct {
	machine  *Machine
	onUpdate UpdateFunc

	mu     sync.Mutex
	inbox  []envelope
	closed bool
	wake   chan struct{}

	view atomic.Pointer[View]
	done chan struct{}
}

// NewLoop creates a loop around m. onUpdate may be nil.
func NewLoop(m *Machine, onUpdate UpdateFunc) *Loop {
	l := &Loop{
		machine:  m,
		onUpdate: onUpdate,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	v := m.View()
	l.view.Store(&v)
	return l
}

// Post queues msg. It reports false when the loop is closed and the message
// was dropped.
func (l *Loop) Post(msg Msg) bool {
	return l.enqueue(envelope{msg: msg})
}

// Send queues msg and waits until it is handled, returning its error.
func (l *Loop) Send(ctx context.Context, msg Msg) error {
	reply := make(chan error, 1)
	if !l.enqueue(envelope{msg: msg, reply: reply}) {
		return ErrLoopClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrLoopClosed
		}
	}
}

// View returns the view published after the last handled message.
func (l *Loop) View() View {
	return *l.view.Load()
}

// Close stops the loop. Messages still queued are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run handles messages until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		for {
			env, ok := l.next()
			if !ok {
				break
			}
			err := l.machine.Handle(env.msg)
			v := l.machine.View()
			l.view.Store(&v)
			if l.onUpdate != nil {
				l.onUpdate(v, err)
			}
			if env.reply != nil {
				env.reply <- err
			}
		}

		if l.isClosed() {
			return
		}
	}
}

func (l *Loop) enqueue(env envelope) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.inbox = append(l.inbox, env)
	l.mu.Unlock()
	l.signal()
	return true
}

func (l *Loop) next() (envelope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.inbox) == 0 {
		return envelope{}, false
	}
	env := l.inbox[0]
	l.inbox[0] = envelope{}
	l.inbox = l.inbox[1:]
	return env, true
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.closed = true
	pending := l.inbox
	l.inbox = nil
	l.mu.Unlock()

	for _, env := range pending {
		if env.reply != nil {
			env.reply <- ErrLoopClosed
		}
	}
}
