package eventbus

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventBus dispatches events to every subscribed handler whose parameter list
// matches the published arguments.
type EventBus interface {
	Publish(args ...any)
	// Subscribe registers handler and returns a func that removes it again.
	Subscribe(handler any) (unsubscribe func())
	SubscribersCount() int
}

type subscriber struct {
	id      uint64
	handler reflect.Value
}

type publisherImpl struct {
	log *logrus.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

func NewEventPublisher(log *logrus.Logger) EventBus {
	return &publisherImpl{log: log}
}

func MatchSignature(handler any, args []any) bool {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func {
		return false
	}
	if t.NumIn() != len(args) {
		return false
	}
	for i, arg := range args {
		paramType := t.In(i)
		if arg == nil {
			if paramType.Kind() != reflect.Interface && paramType.Kind() != reflect.Ptr {
				return false
			}
			continue
		}
		argType := reflect.TypeOf(arg)
		if paramType.Kind() == reflect.Interface {
			if !argType.Implements(paramType) {
				return false
			}
			continue
		}
		if !argType.AssignableTo(paramType) {
			return false
		}
	}
	return true
}

func (p *publisherImpl) Publish(args ...any) {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Value{}
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}

	p.mu.RLock()
	subs := make([]subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()

	handled := false
	for _, s := range subs {
		if !MatchSignature(s.handler.Interface(), args) {
			continue
		}
		call := make([]reflect.Value, len(in))
		for i := range in {
			if !in[i].IsValid() {
				call[i] = reflect.Zero(s.handler.Type().In(i))
				continue
			}
			call[i] = in[i]
		}
		if p.invoke(s.handler, call, args) {
			handled = true
		}
	}

	if !handled && p.log != nil {
		p.log.Warnf("eventbus.Publish: no matching subscribers for event with args: %v", args)
	}
}

func (p *publisherImpl) invoke(handler reflect.Value, in []reflect.Value, args []any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if p.log != nil {
				p.log.Errorf("eventbus: handler %s panicked with args %v: %v", handler.Type().String(), args, r)
			}
		}
	}()
	handler.Call(in)
	return true
}

func (p *publisherImpl) Subscribe(handler any) func() {
	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func {
		panic("handler must be a function")
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscriber{id: id, handler: v})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

func (p *publisherImpl) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
