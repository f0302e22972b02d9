// ABOUTME: Configuration loading for convocore
// ABOUTME: YAML with environment variable expansion, duration parsing, and tuned-default knobs
package config
