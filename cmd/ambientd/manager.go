package main

import (
	"ambientd/internal/config"
	"ambientd/internal/instance"
)

// manager is the daemon-wide implementation of webapi.Manager: the set of
// live instances plus the store they were loaded from.
type manager struct {
	store     config.Store
	instances map[string]*instance.Instance
}

func newManager(store config.Store) *manager {
	return &manager{store: store, instances: make(map[string]*instance.Instance)}
}

func (m *manager) Instance(id string) (*instance.Instance, bool) {
	inst, ok := m.instances[id]
	return inst, ok
}

func (m *manager) Instances() map[string]*instance.Instance {
	return m.instances
}

func (m *manager) Store() config.Store {
	return m.store
}
