package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of partitions for the system.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// GetSubject returns the NATS subject for an event about an entity.
// Format: app.event.{shard_id}.{entity_type}.{entity_id}
func GetSubject(entityType, entityID string) string {
	shardID := GetShardID(entityID)
	return fmt.Sprintf("app.event.%d.%s.%s", shardID, entityType, entityID)
}

// WorkerFor maps an entity onto one of n workers. Entities sharing a shard
// always share a worker, so per-entity ordering survives the fan-out.
func WorkerFor(entityID string, n int) int {
	if n <= 1 {
		return 0
	}
	return GetShardID(entityID) % n
}
