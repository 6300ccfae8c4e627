// Package storage provides the persistence layer behind the recipient roster.
//
// It currently supports:
//   - Registered recipient reads/writes (platform-scoped)
//   - False-alert feedback appends (recipient replies to delivered messages)
package storage
