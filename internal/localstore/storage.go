// Package localstore implements the device-local durable key/value storage used for
// answer backups and the offline queue. Values are opaque JSON documents.
package localstore

// Storage is synchronous durable storage that survives reloads and crashes.
// Get reports ok=false when the key is absent.
type Storage interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Lister is implemented by storages that can enumerate keys with a prefix.
type Lister interface {
	Keys(prefix string) ([]string, error)
}
