package fhe

// Backend performs the homomorphic operations on serialized ciphertexts.
// Implementations must be safe for concurrent use.
//
// Cleartexts are carried as uint64 and are always reduced to the bit width
// of the type they are encrypted as.
type Backend interface {
	Name() string
	Encrypt(t Type, v uint64) ([]byte, error)
	Decrypt(t Type, ct []byte) (uint64, error)
	Add(t Type, a, b []byte) ([]byte, error)
	Sub(t Type, a, b []byte) ([]byte, error)
	// Select returns a when cond decrypts to true and b otherwise.
	Select(t Type, cond, a, b []byte) ([]byte, error)
	// Cast converts a ciphertext of type from into type to.
	Cast(from, to Type, ct []byte) ([]byte, error)
}

// NewBackend returns the backend registered under name.
func NewBackend(name, keyDir string) (Backend, error) {
	switch name {
	case "", "mock":
		return NewMock(), nil
	case "bgv":
		if keyDir == "" {
			return NewBGV()
		}
		return LoadBGV(keyDir)
	default:
		return nil, ErrUnsupported
	}
}
