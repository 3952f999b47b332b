package core

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateLeaderboardName ensures a non-empty name that fits the platform's 128-byte limit.
func ValidateLeaderboardName(name string) error {
	s := strings.TrimSpace(name)
	if s == "" {
		return errors.New("leaderboard name is empty")
	}
	if len(s) > 128 {
		return fmt.Errorf("leaderboard name longer than 128 bytes (%d)", len(s))
	}
	return nil
}

// ValidateRange checks a download range. Friends requests ignore the range.
func ValidateRange(t RequestType, start, end int) error {
	if t == RequestFriends {
		return nil
	}
	if end < start {
		return fmt.Errorf("bad range [%d..%d]", start, end)
	}
	if t == RequestGlobal && start < 1 {
		return fmt.Errorf("global range must start at rank 1 or later, got %d", start)
	}
	return nil
}

// ValidateDetailsMax rejects negative detail counts. Callers clamp the upper bound.
func ValidateDetailsMax(n int) error {
	if n < 0 {
		return errors.New("details max cannot be negative")
	}
	return nil
}

// ClampDetails bounds n to [0, MaxDetails].
func ClampDetails(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxDetails {
		return MaxDetails
	}
	return n
}

// ValidateAPIName ensures a stat or achievement API name is non-empty with a simple charset.
func ValidateAPIName(name string) error {
	s := strings.TrimSpace(name)
	if s == "" {
		return errors.New("empty api name")
	}
	// simple check: alnum, dash, underscore, dot
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.' {
			continue
		}
		return fmt.Errorf("invalid api name %q", name)
	}
	return nil
}

// ValidateFileName ensures a cloud file name is non-empty and flat.
func ValidateFileName(name string) error {
	s := strings.TrimSpace(name)
	if s == "" {
		return errors.New("file name is empty")
	}
	if len(s) > 260 {
		return errors.New("file name longer than 260 bytes")
	}
	if strings.ContainsAny(s, `\`) || strings.Contains(s, "..") || strings.HasPrefix(s, "/") {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}
