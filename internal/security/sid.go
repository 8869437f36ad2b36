package security

// Twilio SIDs are a two-letter type prefix followed by 32 hex-ish
// alphanumerics, 34 characters total.
const sidLength = 34

func validSID(sid, prefix string) bool {
	if len(sid) != sidLength || sid[:2] != prefix {
		return false
	}
	for _, r := range sid[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// ValidConversationSID reports whether sid looks like a Conversation SID (CH...).
func ValidConversationSID(sid string) bool { return validSID(sid, "CH") }

// ValidServiceSID reports whether sid looks like a Conversations Service SID (IS...).
func ValidServiceSID(sid string) bool { return validSID(sid, "IS") }

// ValidMessageSID reports whether sid looks like a Message SID (IM...).
func ValidMessageSID(sid string) bool { return validSID(sid, "IM") }
