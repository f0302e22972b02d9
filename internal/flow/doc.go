// ABOUTME: Step-driven flow engine: validates input against a step's declared shape and transitions
// ABOUTME: Structural errors degrade to not-handled; invalid input re-prompts with no retry cap
package flow
