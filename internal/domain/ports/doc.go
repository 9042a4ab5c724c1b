// Package ports defines the interfaces the workflow engine needs from the
// outside world: relational stores, the ticket service and event delivery.
// Infrastructure adapters implement them; services tests use in-memory fakes.
package ports
