package websocket

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// CloseEvent describes how a connection ended, delivered to OnClose.
type CloseEvent struct {
	WasClean bool
	Code     CloseCode
	Reason   string
}

// emitter delivers OnOpen/OnMessage/OnError/OnClose notifications to the
// application, serialized by its mutex so the sequence of events on any
// connection matches OnOpen . (OnMessage | OnError)* . OnClose and no
// event fires after OnClose.
type emitter struct {
	mu sync.Mutex

	onOpen    func()
	onMessage func(MessageType, []byte)
	onError   func(string)
	onClose   func(CloseEvent)

	log    *logrus.Entry
	closed bool // true once OnClose has fired; blocks further emission
}

func newEmitter(log *logrus.Entry) *emitter {
	return &emitter{log: log}
}

func (e *emitter) setOnOpen(fn func()) { e.mu.Lock(); e.onOpen = fn; e.mu.Unlock() }
func (e *emitter) setOnMessage(fn func(MessageType, []byte)) { e.mu.Lock(); e.onMessage = fn; e.mu.Unlock() }
func (e *emitter) setOnError(fn func(string)) { e.mu.Lock(); e.onError = fn; e.mu.Unlock() }
func (e *emitter) setOnClose(fn func(CloseEvent)) { e.mu.Lock(); e.onClose = fn; e.mu.Unlock() }

// hasOnMessage reports whether an OnMessage callback is registered.
func (e *emitter) hasOnMessage() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onMessage != nil
}

// emitOpen invokes OnOpen and reports whether it panicked; the caller
// (ConnectAsServer) reports the panic and escalates it to a 1011 close.
func (e *emitter) emitOpen() (panicked bool, recovered any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.onOpen == nil {
		return false, nil
	}
	return e.guardedCall(func() { e.onOpen() })
}

// emitMessage invokes OnMessage. Returns whether the callback panicked so
// the receive loop can escalate it.
func (e *emitter) emitMessage(msgType MessageType, payload []byte) (panicked bool, recovered any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.onMessage == nil {
		return false, nil
	}
	return e.guardedCall(func() { e.onMessage(msgType, payload) })
}

// emitError invokes OnError. Exceptions raised by the OnError callback
// itself are swallowed entirely (no re-entrant escalation).
func (e *emitter) emitError(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.onError == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.WithField("recovered", r).Warn("OnError callback panicked; swallowed")
			}
		}()
		e.onError(message)
	}()
}

// emitClose invokes OnClose exactly once and then permanently blocks any
// further emission.
func (e *emitter) emitClose(ev CloseEvent) (panicked bool, recovered any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, nil
	}
	panicked, recovered = e.guardedCall(func() {
		if e.onClose != nil {
			e.onClose(ev)
		}
	})
	e.closed = true
	return panicked, recovered
}

// guardedCall runs fn and traps a panic, returning the recovered value. It
// neither logs nor calls OnError (emitError takes the same, already-held
// mutex); the caller decides how to surface the panic after the lock is
// released.
func (e *emitter) guardedCall(fn func()) (panicked bool, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			recovered = r
		}
	}()
	fn()
	return false, nil
}
