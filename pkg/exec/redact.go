package exec

import (
	"regexp"
)

const redacted = "<REDACTED>"

// secretPatterns match a secret with everything before it in group 1 and
// everything after it in group 2.
var secretPatterns = []*regexp.Regexp{
	// fence agents: "--password secret", "--password=secret"
	regexp.MustCompile(`(.* --password[ =])\S*(.*)`),
	// "-p secret"
	regexp.MustCompile(`(.* -p )\S*(.*)`),
	// pcs stonith options: password=secret, passwd="secret"
	regexp.MustCompile(`(.* passw(?:or)?d=)\S*(.*)`),
	// stonith config json: "name": "password", "value": "secret"
	regexp.MustCompile(`(.*"passw(?:or)?d", "value": ")[^"]*(".*)`),
	// cib xml: name="password" value="secret"
	regexp.MustCompile(`(.*"passw(?:or)?d" value=")[^"]*(".*)`),
}

// RedactPasswords replaces password-like values with a placeholder, so that
// commands and their output can be logged or put into errors.
func RedactPasswords(in string) string {
	out := in
	for _, re := range secretPatterns {
		out = re.ReplaceAllString(out, "${1}"+redacted+"${2}")
	}
	return out
}
