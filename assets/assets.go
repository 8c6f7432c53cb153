// Package assets hosts large binary payloads out-of-band. Buffers above
// the inline threshold are installed here and the replication stream
// carries only a reference.
package assets

// Ref locates an installed blob for clients: an absolute URL path plus
// the port the HTTP host listens on.
type Ref struct {
	Path string
	Port int
}

// Host is the asset-hosting collaborator contract. Install is
// idempotent per identity; Remove forgets the blob and frees its bytes.
type Host interface {
	Install(identity string, data []byte) (Ref, error)
	Remove(identity string)
}
