// Package cache stores successful responses keyed by normalized request
// identity.
//
// Two backends implement Store:
//   - MemoryStore: in-process LRU bounded by entry count
//   - RedisStore: shared cache in Redis with the same bound enforced through
//     a sorted-set access index
//
// Both treat an entry as absent once now >= StoredAt+TTL. Errors from a
// backend are classified as cache errors; callers are expected to log them
// and carry on without the cache.
package cache
