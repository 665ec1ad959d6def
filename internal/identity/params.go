package identity

// Argon2idParams are the fixed derivation parameters. They are part of the
// identity format: the same (passphrase, username) pair must reproduce the
// same key pair forever, so any change here is a breaking format change
// that requires a version bump and a migration path.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	Algorithm   string
	Version     string
}

const (
	kdfMemoryKiB   = 64 * 1024
	kdfIterations  = 3
	kdfParallelism = 1
	kdfKeyLength   = 32

	kdfAlgorithm = "Argon2id"
	kdfVersion   = "1.3"

	MasterKeyLength = kdfKeyLength
)

// Params returns a copy of the fixed derivation parameters.
func Params() Argon2idParams {
	return Argon2idParams{
		MemoryKiB:   kdfMemoryKiB,
		Iterations:  kdfIterations,
		Parallelism: kdfParallelism,
		KeyLength:   kdfKeyLength,
		Algorithm:   kdfAlgorithm,
		Version:     kdfVersion,
	}
}
