// ABOUTME: Outbound send deduplication: the one correctness-critical atomic operation in the core
// ABOUTME: A reservation row insert with do-nothing-on-conflict decides who owns a send
package outbound
