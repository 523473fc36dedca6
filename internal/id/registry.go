package id

import "github.com/google/uuid"

// Registry binds human-readable names to generated UUIDs, the pattern every
// manager (node, group, server, user) layers its own records on top of.
type Registry struct {
	byName map[string]uuid.UUID
	byUUID map[uuid.UUID]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]uuid.UUID),
		byUUID: make(map[uuid.UUID]string),
	}
}

// Bind assigns a fresh uuid to name. It returns false if name is already bound.
func (r *Registry) Bind(name string) (uuid.UUID, bool) {
	if _, exists := r.byName[name]; exists {
		return uuid.Nil, false
	}
	id := uuid.New()
	r.byName[name] = id
	r.byUUID[id] = name
	return id, true
}

func (r *Registry) NameOf(id uuid.UUID) (string, bool) {
	name, ok := r.byUUID[id]
	return name, ok
}

func (r *Registry) UUIDOf(name string) (uuid.UUID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Unbind removes the binding for name, if present.
func (r *Registry) Unbind(name string) {
	if id, ok := r.byName[name]; ok {
		delete(r.byName, name)
		delete(r.byUUID, id)
	}
}
