// Package store maps typed entities onto schemaless document collections.
//
// A Definition describes one entity type: its collection, an aliased field
// table with optional codecs and lazy defaults, and relationship slots of
// five shapes (embed-one, embed-many, ref-one, ref-many, many-to-many). A
// DB binds definitions to a driver.Store and hands out Records, which hold
// in-memory state until an explicit Save. Destroy walks relationships
// under per-slot cascade policies; Find builds restartable criteria over a
// collection.
//
// The package is written for single-threaded use per Record and DB.
// Nothing here locks; callers owning concurrent access provide their own
// coordination.
package store
