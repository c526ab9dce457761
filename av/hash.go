package av

import (
	"hash"
	"hash/adler32"
	"hash/crc32"
	"sort"

	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"

	"github.com/fabio-d/rawcompr"
)

var hashConstructors = map[string]func() hash.Hash{
	"MD5":     md5.New,
	"SHA-1":   sha1.New,
	"SHA-256": sha256.New,
	"SHA-512": sha512.New,
	"CRC32":   func() hash.Hash { return crc32.NewIEEE() },
	"Adler32": func() hash.Hash { return adler32.New() },
}

// NewHash allocates a streaming hash by algorithm name. The names accepted
// here are the ones that may appear in an LLR file's hash section.
func NewHash(name string) (hash.Hash, error) {
	constructor, ok := hashConstructors[name]
	if !ok {
		return nil, rawcompr.ErrInvalidInput.WithMessage("unknown hash algorithm: " + name)
	}
	return constructor(), nil
}

// HashNames enumerates the supported hash algorithm names, sorted.
func HashNames() []string {
	names := make([]string, 0, len(hashConstructors))
	for name := range hashConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
