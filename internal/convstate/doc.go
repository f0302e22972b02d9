// ABOUTME: Per-identity conversation session state: active flow/step plus a JSON context blob
// ABOUTME: Merging is an explicit shallow reducer; the read-modify-write race is a documented contract
package convstate
