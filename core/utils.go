package core

import (
	"reflect"
	"slices"

	"github.com/encodeous/nyflow/state"
)

func Get[T state.NyModule](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}

// moduleOrder lists modules so that the ones serving traffic go first
func moduleOrder(s *state.State) []string {
	order := []string{
		reflect.TypeFor[*Admin]().String(),
		reflect.TypeFor[*Switches]().String(),
		reflect.TypeFor[*Topology]().String(),
		reflect.TypeFor[*Routing]().String(),
	}
	return slices.DeleteFunc(order, func(name string) bool {
		_, ok := s.Modules[name]
		return !ok
	})
}
