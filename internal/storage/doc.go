// Package storage keeps an append-only audit of poll cycles and deliveries.
//
// It is not sync state: nothing read back from it changes what gets sent.
package storage
