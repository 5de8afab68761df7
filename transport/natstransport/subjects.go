package natstransport

import (
	"strings"

	"github.com/c360/chatsession/message"
)

// Header keys carried by chat messages.
const (
	HeaderFrom    = "Chat-From"
	HeaderTo      = "Chat-To"
	HeaderSubject = "Chat-Subject"
)

// LoginSubject is the request subject answered by the domain's authenticator.
func LoginSubject(domain string) string {
	return domain + ".auth.login"
}

// ChatSubject is the subject a user receives chat messages on.
func ChatSubject(id, domain string) string {
	d := message.Domain(id)
	if d == "" {
		d = domain
	}
	return d + ".chat." + subjectToken(message.Local(id))
}

// subjectToken makes a local part safe to use as a single subject token.
func subjectToken(s string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToLower(r.Replace(s))
}
