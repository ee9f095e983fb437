// Package session issues and validates the local sessions established
// after a successful SSO login.
//
// A Manager owns the session cookie; Store backends persist the session
// records either in the identity database (SQLStore) or in redis
// (RedisStore, where key TTLs handle expiry). SQL-backed deployments run
// a cron Sweeper that removes expired rows.
package session
