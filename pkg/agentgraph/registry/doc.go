// Package registry provides a concurrency-safe map that keeps keys in the
// order they were added.
//
// The tool and rollback registries are built on it. Tool specifications are
// offered to the model in registration order, so identical setups produce
// identical requests.
//
//	r := registry.New[string, int]()
//	r.Add("one", 1)
//	r.Add("two", 2)
//	r.Keys() // ["one", "two"]
//
// Subset narrows a registry to chosen keys; subgraph tool views use it.
package registry
