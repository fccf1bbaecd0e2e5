package ports

// Dialog abstracts interactive questions asked of the operator.
// Implementations may use TUI forms or test fakes.
type Dialog interface {
	// Password asks for a secret. The answer must not be echoed.
	Password(title, description string) (string, error)
}
