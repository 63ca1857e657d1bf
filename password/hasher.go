package password

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

// Scheme is a Hasher that recognizes its own encoded format.
type Scheme interface {
	Hasher
	Handles(encoded string) bool
}

// Chain hashes new passwords with its primary scheme and verifies stored
// hashes with whichever scheme recognizes them. A hash from a non-primary
// scheme always needs an upgrade.
type Chain struct {
	primary Scheme
	legacy  []Scheme
}

// NewChain returns a chain that writes with primary and also reads legacy.
func NewChain(primary Scheme, legacy ...Scheme) *Chain {
	return &Chain{primary: primary, legacy: legacy}
}

// Hash hashes with the primary scheme.
func (c *Chain) Hash(password string) (string, error) {
	return c.primary.Hash(password)
}

// Verify dispatches by hash format.
func (c *Chain) Verify(password, encoded string) (bool, error) {
	s, err := c.schemeFor(encoded)
	if err != nil {
		return false, err
	}
	return s.Verify(password, encoded)
}

// NeedsUpgrade is true for legacy-format hashes and for primary-format hashes
// with weaker parameters.
func (c *Chain) NeedsUpgrade(encoded string) (bool, error) {
	if c.primary.Handles(encoded) {
		return c.primary.NeedsUpgrade(encoded)
	}
	if _, err := c.schemeFor(encoded); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Chain) schemeFor(encoded string) (Scheme, error) {
	if c.primary.Handles(encoded) {
		return c.primary, nil
	}
	for _, s := range c.legacy {
		if s.Handles(encoded) {
			return s, nil
		}
	}
	return nil, ErrUnsupportedAlgorithm
}
