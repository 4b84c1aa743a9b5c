package privacy

import (
	"fmt"
	"strconv"
)

// GenerateCode returns the lowest unused code for the category.
// Counters start at 1 and are probed in order until a code is found that is
// not in existing.
func GenerateCode(category EntryType, existing []string) (string, error) {
	prefix, ok := category.Prefix()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	used := make(map[string]struct{}, len(existing))
	for _, code := range existing {
		used[code] = struct{}{}
	}

	for counter := 1; ; counter++ {
		code := prefix + "_" + strconv.Itoa(counter)
		if _, taken := used[code]; !taken {
			return code, nil
		}
	}
}

// Codes returns the anonymized codes of entries
func Codes(entries []Entry) []string {
	codes := make([]string, len(entries))
	for i, e := range entries {
		codes[i] = e.AnonymizedCode
	}
	return codes
}
