// Package redisstore provides a sessions.Store backed by Redis.
//
// It is optional: the retail demo runs on the in-memory store unless
// REDIS_ADDR is configured. Using Redis lets several processes share one
// session table, which the demo does not require but which makes the REST
// login form and the MCP servers work across restarts.
//
// Keys:
//
//	<prefix>session:<id>   JSON-encoded sessions.Session, optional TTL
//
// Mutations run inside WATCH/MULTI transactions and are retried on
// contention.
package redisstore
