package domain

import "strings"

// UserServer is the network's canonical domain for individual accounts.
const UserServer = "s.whatsapp.net"

// NormalizeRecipient converts a phone number or address into the transport's
// addressing form by appending "@s.whatsapp.net" when it is absent.
func NormalizeRecipient(to string) string {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@"+UserServer) {
		return to
	}
	return to + "@" + UserServer
}

// ParsePhoneIdentity extracts the user part of a transport identity such as
// "5551234:12@s.whatsapp.net". Device and server suffixes are dropped.
func ParsePhoneIdentity(identity string) string {
	user := identity
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}
