// ABOUTME: Persistence layer for convocore: conversation state, KV memory, flows, catalog, intents
// ABOUTME: Also owns the outbound reservation table, the system's only atomic dedupe boundary
package store
