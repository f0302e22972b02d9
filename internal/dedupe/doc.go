// ABOUTME: In-process TTL filter for duplicate message deliveries (webhook retries)
// ABOUTME: First line of defense only; the DB outbound reservation is the correctness boundary
package dedupe
