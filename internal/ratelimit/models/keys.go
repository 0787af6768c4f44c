package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so a requester named "a:b" cannot collide with another key.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewResolveKey buckets resolution attempts per requester.
func NewResolveKey(requester string) string {
	return "rl:resolve:" + SanitizeKeySegment(requester)
}

// NewIPKey buckets requests per client IP.
func NewIPKey(ip string) string {
	return "rl:ip:" + SanitizeKeySegment(ip)
}
