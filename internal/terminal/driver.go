package terminal

import "sync"

// Driver registration, modelled on database/sql: implementations register
// a Factory under a name at init time, and the binary selects one through
// configuration. The simulator registers itself; a real ESSL driver
// package does the same when linked in.
var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// RegisterDriver makes a terminal driver available under the given name.
// Registering twice under one name panics, as does a nil factory.
func RegisterDriver(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("terminal: RegisterDriver with nil factory")
	}
	if _, dup := drivers[name]; dup {
		panic("terminal: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = factory
}

// Driver returns the factory registered under name.
func Driver(name string) (Factory, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	f, ok := drivers[name]
	return f, ok
}

func init() {
	RegisterDriver("simulator", func(cfg Config) Capability {
		return NewSimulator(cfg)
	})
}
