package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SchemaHash fingerprints a tool's externally visible shape for §4.6
// schema-drift detection. It hashes {name, description, inputSchema} the
// same way on both ends of the comparison: once by whoever pins a tool's
// "expectedSchemaHash" in the registry document, and again here against the
// live tool a backend actually advertises over tools/list.
func SchemaHash(name, description string, inputSchema RawJSON) string {
	data, _ := json.Marshal(struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		InputSchema RawJSON `json:"inputSchema"`
	}{name, description, inputSchema})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
