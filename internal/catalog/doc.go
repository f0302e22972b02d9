// ABOUTME: Catalog resolver: need classification, sticky references, fuzzy search, disambiguation
// ABOUTME: Returns structured facts or a clarification question, never fabricated content
package catalog
