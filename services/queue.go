package services

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// GenerateFilterContextHash produces a stable fingerprint for a set of
// case-selection filters. Keys are sorted, values joined as key:value
// pairs with a | delimiter, and the result MD5-hashed. Nil values are
// normalized to the empty string so {"a": nil} and {"a": ""} hash the
// same. Empty or nil filter objects hash the empty string.
func GenerateFilterContextHash(filters map[string]any) string {
	if len(filters) == 0 {
		sum := md5.Sum(nil)
		return hex.EncodeToString(sum[:])
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v := filters[k]
		s := ""
		if v != nil {
			s = fmt.Sprint(v)
		}
		pairs = append(pairs, k+":"+s)
	}

	sum := md5.Sum([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(sum[:])
}

// BuildQueue computes the ordered active queue for a session. Candidates
// arrive in catalog order; ids already completed or skipped in the filter
// context are dropped. When resumeID names a surviving candidate it is
// moved to the front so the in-flight case is served first. Returns the
// queue and the index of the current case (-1 for an empty queue).
func BuildQueue(candidateIDs []string, finished map[string]bool, resumeID string) ([]string, int) {
	queue := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if finished[id] {
			continue
		}
		queue = append(queue, id)
	}
	if len(queue) == 0 {
		return queue, -1
	}

	if resumeID != "" {
		for i, id := range queue {
			if id != resumeID {
				continue
			}
			copy(queue[1:i+1], queue[:i])
			queue[0] = resumeID
			break
		}
	}
	return queue, 0
}

// NextIndex scans forward from fromIdx+1 and returns the index of the
// first case not already completed or skipped. Returns len(queue) when
// the queue is exhausted; callers persist that as the past-the-end
// sentinel so repeated advances stay terminal.
func NextIndex(queue []string, fromIdx int, finished map[string]bool) int {
	i := fromIdx + 1
	if i < 0 {
		i = 0
	}
	for ; i < len(queue); i++ {
		if !finished[queue[i]] {
			return i
		}
	}
	return len(queue)
}
