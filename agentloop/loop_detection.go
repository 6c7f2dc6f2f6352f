package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/martinemde/codeloop/protocol"
)

// actionSignature computes a deterministic signature for a dispatched
// action (name + hash of its canonical JSON).
func actionSignature(a protocol.Action) string {
	data, err := json.Marshal(a)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", a))
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", a.Name(), h[:8])
}

// DetectLoop checks whether the last windowSize signatures follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(sigs []string, windowSize int) bool {
	if windowSize <= 0 || len(sigs) < windowSize {
		return false
	}
	window := sigs[len(sigs)-windowSize:]

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || windowSize == patternLen {
			continue
		}
		pattern := window[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if window[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

const loopWarning = "[SYSTEM-WARNING] Your last %d actions repeat the same pattern. " +
	"Try a different approach, or reply with a text_response if you are stuck."
