// Package lrs implements the Learning Record Store xAPI client.
// This package handles all communication with the configured LRS:
// statement queries, statement writes, the State API and the Agent
// Profile API. A client is constructed per resolved settings value and
// never cached across operations.
package lrs

import (
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// StatementsResultDTO is the body of a GET /statements response: one
// page of statements plus an opaque continuation URL.
type StatementsResultDTO struct {
	Statements []xapi.Statement `json:"statements"`

	// More is a relative URL for the next page, empty on the last page.
	More string `json:"more,omitempty"`
}

// AboutDTO is the body of GET /about, used for health probes.
type AboutDTO struct {
	Versions []string `json:"version"`
}
