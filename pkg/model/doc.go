// Package model defines the declarative form definitions consumed by the
// validator, the form state container, and the terminal prompt driver.
// Definitions come from the embedded catalog (YAML) or are derived from an
// OpenAPI operation. Validation rules expose canonical identifiers
// (min/max, minLength/maxLength, pattern) with string parameters so YAML and
// JSON snapshots stay deterministic. Per-rule messages live in
// Field.Messages keyed by rule kind ("required", "minLength", "enum", ...).
package model
