// ABOUTME: Intent matcher: scores input against tenant-authored example phrases per intent
// ABOUTME: Priority ordering plus strict-greater tracking makes tie-breaks deterministic
package intent
