// ABOUTME: Pure text normalization and similarity scoring shared by all classifiers
// ABOUTME: Every comparison in the system goes through Normalize so call sites agree on equivalence
package textmatch
