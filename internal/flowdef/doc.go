// ABOUTME: TOML seed format for tenant flows, catalog fixtures, and intents
// ABOUTME: Installed into the store by the seed command and test fixtures
package flowdef
