package descriptor

// Capabilities is a bitset of what a query may do, as reported by the
// server on Parse/Describe. The retry layer inspects this to decide
// whether a retry is safe: only Parsed(empty) or Unparsed queries are
// ever retried automatically (spec §4.5, §8 law: MODIFICATIONS is never
// retried).
type Capabilities uint64

const (
	CapModifications Capabilities = 1 << iota
	CapDDL
	CapPersistentConfig
	CapSessionConfig
	CapSetGlobal
	CapTransaction
	CapDescribeData
	CapTransactionBoundary
)

func (c Capabilities) Has(flag Capabilities) bool { return c&flag != 0 }

func (c Capabilities) IsEmpty() bool { return c == 0 }

// QueryCapabilities distinguishes "no capabilities because the server
// told us so" from "no capabilities because we never heard back" — the
// latter still counts as retry-eligible (spec §4.5).
type QueryCapabilities struct {
	Parsed   bool
	Observed Capabilities
}

// Unparsed marks a query whose capabilities were never reported, e.g.
// because the request failed before the server responded.
func Unparsed() QueryCapabilities { return QueryCapabilities{Parsed: false} }

// Parsed wraps a server-reported capability bitset.
func Parsed(caps Capabilities) QueryCapabilities {
	return QueryCapabilities{Parsed: true, Observed: caps}
}

// RetrySafe reports whether a query with these capabilities may be
// retried automatically: either unparsed, or parsed with an empty set.
func (qc QueryCapabilities) RetrySafe() bool {
	return !qc.Parsed || qc.Observed.IsEmpty()
}
