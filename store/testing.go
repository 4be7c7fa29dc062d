package store

import "strings"

// MemoryDSN builds a uniquely-named sqlite memory DSN so concurrent
// tests can each get their own isolated database instead of colliding
// on the single shared unnamed one that OpenChannelStore("") opens.
func MemoryDSN(name string) string {
	safe := strings.NewReplacer("/", "_", " ", "_").Replace(name)
	return "file:" + safe + "?mode=memory&cache=shared&_foreign_keys=on"
}
