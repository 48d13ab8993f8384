package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// derives a deterministic cache key from a function name and its
// arguments. Map keys are serialized in sorted order (encoding/json
// guarantees this), so identical calls hit the same slot regardless of
// argument ordering.
func DeriveKey(fn string, args map[string]any) string {
	if len(args) == 0 {
		return fn
	}

	canonical, err := json.Marshal(args)
	if err != nil {
		// unserializable arguments still need a stable-ish slot
		canonical = []byte(fmt.Sprintf("%v", args))
	}

	digest := sha256.Sum256(canonical)

	return fn + ":" + hex.EncodeToString(digest[:])[:16]
}
