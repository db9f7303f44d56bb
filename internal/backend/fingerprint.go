package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/revittco/mcpgate/internal/registry"
)

// Fingerprint computes a stable hash over a canonicalized server
// definition, used to deduplicate identical backend configs (§4.6, §8
// invariant 6). Two stdio servers with identical {command, args, env}
// collapse to one session; two url servers with identical {url, transport,
// auth} collapse to one.
func Fingerprint(s registry.ServerDef) string {
	h := sha256.New()
	if s.Stdio != nil {
		h.Write([]byte("stdio\x00"))
		h.Write([]byte(s.Stdio.Command))
		for _, a := range s.Stdio.Args {
			h.Write([]byte{0})
			h.Write([]byte(a))
		}
		keys := make([]string, 0, len(s.Stdio.Env))
		for k := range s.Stdio.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte{1})
			h.Write([]byte(k))
			h.Write([]byte{'='})
			h.Write([]byte(s.Stdio.Env[k]))
		}
	} else {
		h.Write([]byte("url\x00"))
		h.Write([]byte(s.URL))
		h.Write([]byte{0})
		h.Write([]byte(s.Transport))
		h.Write([]byte{0})
		h.Write([]byte(s.Auth))
	}
	return hex.EncodeToString(h.Sum(nil))
}
