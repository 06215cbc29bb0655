// Package ir provides the value and document types shared by every layer of
// the live view engine.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere; numbers are int64
//   - NO null values; an absent field is simply missing from the object
//   - Logical sequence numbers only, never wall-clock timestamps
//   - Stored bodies are RFC 8785 canonical JSON
package ir
