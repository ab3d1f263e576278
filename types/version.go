package types

// Version is the canonical project version, shared by the harness and its
// isolated workers.
const Version = "0.1.0"
