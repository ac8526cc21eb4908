package sqlbase

// Dialect captures the differences between the SQL engines backing a DocumentStore.
type Dialect interface {
	// Name is used in log lines and error messages.
	Name() string

	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder(n int) string

	// JSONField returns an expression yielding the text value of a top-level
	// body field. The field name is already validated as a plain identifier.
	JSONField(field string) string

	// IsUniqueViolation reports whether a driver error is a primary key or
	// unique index violation.
	IsUniqueViolation(err error) bool
}
