// Package registry keeps the audio back-ends that registered themselves
// (usually from an init function) and orders them by priority.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/xaionaro-go/voiceactivity/pkg/audio/types"
)

type RecorderPCMFactory interface {
	NewRecorderPCM() (types.RecorderPCM, error)
}

type PlayerPCMFactory interface {
	NewPlayerPCM() (types.PlayerPCM, error)
}

type factoryWithPriority[F any] struct {
	Priority int
	Factory  F
}

type registry[F any] struct {
	locker    sync.Mutex
	factories map[reflect.Type]factoryWithPriority[F]
}

func (r *registry[F]) register(kind string, priority int, factory F) {
	t := reflect.ValueOf(factory).Type()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.locker.Lock()
	defer r.locker.Unlock()
	if r.factories == nil {
		r.factories = map[reflect.Type]factoryWithPriority[F]{}
	}
	if _, ok := r.factories[t]; ok {
		panic(fmt.Errorf("there is already registered a factory of %s of type %v", kind, t))
	}
	r.factories[t] = factoryWithPriority[F]{
		Priority: priority,
		Factory:  factory,
	}
}

func (r *registry[F]) list() []F {
	r.locker.Lock()
	var withPriorities []factoryWithPriority[F]
	for _, factory := range r.factories {
		withPriorities = append(withPriorities, factory)
	}
	r.locker.Unlock()

	sort.SliceStable(withPriorities, func(i, j int) bool {
		return withPriorities[i].Priority > withPriorities[j].Priority
	})

	result := make([]F, 0, len(withPriorities))
	for _, item := range withPriorities {
		result = append(result, item.Factory)
	}
	return result
}

var (
	recorderRegistry registry[RecorderPCMFactory]
	playerRegistry   registry[PlayerPCMFactory]
)

func RegisterRecorderFactory(
	priority int,
	factory RecorderPCMFactory,
) {
	recorderRegistry.register("RecorderPCM", priority, factory)
}

// RecorderFactories returns the registered recorder factories, the highest priority first.
func RecorderFactories() []RecorderPCMFactory {
	return recorderRegistry.list()
}

func RegisterPlayerFactory(
	priority int,
	factory PlayerPCMFactory,
) {
	playerRegistry.register("PlayerPCM", priority, factory)
}

// PlayerFactories returns the registered player factories, the highest priority first.
func PlayerFactories() []PlayerPCMFactory {
	return playerRegistry.list()
}
