// Package storage persists the two durable collections of the bot: the
// subscriber set and the pending-challenge table.
//
// Both collections are read and written whole (load/replace). Owner layers
// serialized read-modify-write cycles on top of any Store.
package storage
