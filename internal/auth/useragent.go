package auth

import "strings"

// ParseUserAgent extracts a coarse OS and device description from a browser
// User-Agent header. Best effort only; unknown agents yield empty strings.
func ParseUserAgent(ua string) (osName, device string) {
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "iphone"):
		return "iOS", "iPhone"
	case strings.Contains(lower, "ipad"):
		return "iPadOS", "iPad"
	case strings.Contains(lower, "android"):
		return "Android", androidDevice(ua)
	case strings.Contains(lower, "mac os x"), strings.Contains(lower, "macintosh"):
		return "macOS", browserName(lower)
	case strings.Contains(lower, "windows"):
		return "Windows", browserName(lower)
	case strings.Contains(lower, "cros"):
		return "ChromeOS", browserName(lower)
	case strings.Contains(lower, "linux"):
		return "Linux", browserName(lower)
	}
	return "", ""
}

// androidDevice pulls the model out of "Android x; <model>)" or
// "Android x; <model> Build/..." segments.
func androidDevice(ua string) string {
	idx := strings.Index(ua, "Android")
	if idx < 0 {
		return ""
	}
	rest := ua[idx:]
	semi := strings.Index(rest, ";")
	if semi < 0 {
		return ""
	}
	rest = rest[semi+1:]
	if end := strings.IndexAny(rest, ");"); end >= 0 {
		rest = rest[:end]
	}
	if build := strings.Index(rest, " Build"); build >= 0 {
		rest = rest[:build]
	}
	return strings.TrimSpace(rest)
}

func browserName(lower string) string {
	switch {
	case strings.Contains(lower, "edg/"):
		return "Edge"
	case strings.Contains(lower, "firefox/"):
		return "Firefox"
	case strings.Contains(lower, "chrome/"):
		return "Chrome"
	case strings.Contains(lower, "safari/"):
		return "Safari"
	}
	return ""
}
