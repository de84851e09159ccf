// Package cache is the disk-backed artifact store. Packaged mods live under
// StoragePath/mods/<game>/<mod>.zip and are written through a temp file +
// rename so readers never observe a partial archive. The worker pool writes
// new artifacts here before committing the index, and the coordinator checks
// Exists before serving so that a vanished file is detected as damaged.
package cache
