package helpers

// Pointer returns a pointer to a copy of v, for optional settings fields.
func Pointer[T any](v T) *T {
	return &v
}
