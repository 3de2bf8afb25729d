// Package openapi exposes the loader and parser contracts used to derive form
// definitions from the backend's OpenAPI document. Implementations live under
// internal/openapi so kin-openapi types never leak to consumers.
package openapi
