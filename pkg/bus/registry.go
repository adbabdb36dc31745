package bus

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrNotIdentifiable is returned for values that cannot carry a stable identity.
var ErrNotIdentifiable = errors.New("object cannot be identified: need a non-nil pointer")

// registry hands out deterministic identifiers: "<type>#<n>" where n follows
// registration order. An identifier is stable until the object is forgotten.
type registry struct {
	mu  sync.RWMutex
	seq uint64
	ids map[any]string
}

func newRegistry() *registry {
	return &registry{ids: make(map[any]string)}
}

func (r *registry) register(obj any) (string, error) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return "", fmt.Errorf("%w: %T", ErrNotIdentifiable, obj)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.ids[obj]; ok {
		return id, nil
	}

	r.seq++
	id := fmt.Sprintf("%s#%d", strings.ToLower(v.Type().Elem().Name()), r.seq)
	r.ids[obj] = id
	return id, nil
}

func (r *registry) lookup(obj any) (string, bool) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() || v.Kind() != reflect.Pointer {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[obj]
	return id, ok
}

func (r *registry) forget(obj any) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() || v.Kind() != reflect.Pointer {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, obj)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
