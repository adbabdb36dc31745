package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/aretw0/tally/pkg/core"
)

// SHA256 is the default digester.
type SHA256 struct{}

func (SHA256) Name() string { return "sha256" }

func (SHA256) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// XXHash is a fast non-cryptographic digester. It detects corruption but is
// not meant to resist deliberate tampering.
type XXHash struct{}

func (XXHash) Name() string { return "xxhash" }

func (XXHash) Sum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

var (
	_ core.Digester = SHA256{}
	_ core.Digester = XXHash{}
)

var (
	registryMu sync.RWMutex
	registry   = map[string]core.Digester{}
)

// RegisterDigester makes d resolvable by DigesterByName and by Verify for
// files written with it. Built-in names cannot be replaced.
func RegisterDigester(d core.Digester) error {
	name := strings.ToLower(strings.TrimSpace(d.Name()))
	if name == "" || strings.ContainsAny(name, ":;") {
		return fmt.Errorf("invalid digest algorithm name %q", d.Name())
	}
	if builtin(name) != nil {
		return fmt.Errorf("digest algorithm %q is built in", name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = d
	return nil
}

func builtin(name string) core.Digester {
	switch name {
	case "", "sha256":
		return SHA256{}
	case "xxhash", "xxh64":
		return XXHash{}
	}
	return nil
}

// DigesterByName returns the built-in or registered digester called name.
func DigesterByName(name string) (core.Digester, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if d := builtin(name); d != nil {
		return d, nil
	}
	registryMu.RLock()
	d, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown digest algorithm %q", name)
	}
	return d, nil
}

// Digest returns the persisted form "<algorithm>:<hex>" of data's digest.
func Digest(d core.Digester, data []byte) string {
	return d.Name() + ":" + d.Sum(data)
}

// SplitDigest separates a persisted digest into algorithm and hex sum.
func SplitDigest(digest string) (algo, sum string, err error) {
	algo, sum, ok := strings.Cut(digest, ":")
	if !ok || algo == "" || sum == "" {
		return "", "", fmt.Errorf("malformed digest %q", digest)
	}
	return algo, sum, nil
}

// Verify recomputes data's digest with the algorithm named in expected.
// Among known, a digester whose Name matches the algorithm is used before
// the built-in and registered ones. It returns the actual digest and an
// IntegrityMismatchError when they differ.
func Verify(name string, data []byte, expected string, known ...core.Digester) (string, error) {
	algo, _, err := SplitDigest(expected)
	if err != nil {
		return "", err
	}
	d, err := resolve(algo, known)
	if err != nil {
		return "", err
	}

	actual := Digest(d, data)
	if actual != expected {
		return actual, &core.IntegrityMismatchError{Name: name, Expected: expected, Actual: actual}
	}
	return actual, nil
}

func resolve(algo string, known []core.Digester) (core.Digester, error) {
	for _, d := range known {
		if d != nil && d.Name() == algo {
			return d, nil
		}
	}
	return DigesterByName(algo)
}
