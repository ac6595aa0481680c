package port

// Argon2Params captures tunable parameters for the Argon2id hashing algorithm.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// PasswordPolicy decides whether a candidate password is acceptable.
type PasswordPolicy interface {
	MeetsPolicy(password string) bool
}

// EmailPolicy validates addresses offered at registration.
type EmailPolicy interface {
	IsValidFormat(email string) bool
	IsDisposable(email string) bool
}

// TokenCodec generates raw tokens and the digests stored in their place.
type TokenCodec interface {
	Generate() (string, error)
	Digest(raw string) string
}
