// Package models defines server-side data models persisted by the
// repositories and passed between services.
package models
