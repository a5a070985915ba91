package utils

import (
	"net/url"
)

// LogURL returns the URL as-is or obfuscated, depending on the obfuscate
// flag. Meant for log lines that would otherwise leak portal credentials
// embedded in paths or query strings.
func LogURL(obfuscate bool, raw string) string {
	if obfuscate {
		return ObfuscateURL(raw)
	}
	return raw
}

// ObfuscateURL masks the path, query and fragment of a URL, keeping only
// scheme and host. Unparsable input is masked entirely.
func ObfuscateURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
