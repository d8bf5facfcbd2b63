// fingerprint.go generates stable hashes for grouping similar faults.

package bugwatch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// maxDigestFrames is the number of in-app frames folded into a stack digest.
const maxDigestFrames = 5

// normalizer replaces one class of volatile substring with a placeholder.
type normalizer struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: UUIDs and hex runs must be replaced before the digit pass
// would split them apart.
var messageNormalizers = []normalizer{
	{regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`), "<uuid>"},
	{regexp.MustCompile(`0x[0-9a-fA-F]+`), "<hex>"},
	{regexp.MustCompile(`at 0x[0-9a-fA-F]+`), "at <address>"},
	{regexp.MustCompile(`(/[\w\-./]+)+`), "<path>"},
	{regexp.MustCompile(`(\\[\w\-.\\ ]+)+`), "<path>"},
	{regexp.MustCompile(`"[^"]*"`), "<string>"},
	{regexp.MustCompile(`'[^']*'`), "<string>"},
	{regexp.MustCompile(`\d+`), "<number>"},
}

// Fingerprint hashes a fault's type, normalized message and optional stack
// digest into a 32 character hex string. An empty digest is treated as absent.
//
// Messages that differ only in numbers, UUIDs, addresses, paths or quoted
// literals produce the same fingerprint.
func Fingerprint(errType, message, stackDigest string) string {
	content := errType + ":" + NormalizeMessage(message)
	if stackDigest != "" {
		content += ":" + stackDigest
	}

	hash := sha256.Sum256([]byte(content))

	// First 16 bytes, 32 hex chars
	return hex.EncodeToString(hash[:16])
}

// NormalizeMessage replaces volatile substrings of a fault message with
// stable placeholders such as <uuid>, <path> and <number>.
func NormalizeMessage(message string) string {
	normalized := message
	for _, n := range messageNormalizers {
		normalized = n.pattern.ReplaceAllString(normalized, n.replacement)
	}
	return normalized
}

// StackDigest folds up to the first five in-app frames of a stack, outermost
// first, into a "file:function:line" list joined with "|". It returns "" when
// no frame is in-app so the fingerprint falls back to type and message alone.
func StackDigest(frames []StackFrame) string {
	var parts []string
	for _, f := range frames {
		if !f.InApp {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%s:%d", f.Filename, f.Function, f.Lineno))
		if len(parts) >= maxDigestFrames {
			break
		}
	}
	return strings.Join(parts, "|")
}

// fingerprintFault computes the fingerprint of extracted fault information.
func fingerprintFault(fault *FaultInfo) string {
	if fault == nil {
		return ""
	}
	return Fingerprint(fault.Type, fault.Value, StackDigest(fault.Stacktrace))
}
