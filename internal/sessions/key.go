package sessions

// SessionKey derives the stable session identifier for a conversation.
// The key is deterministic so concurrent webhook deliveries for the same
// conversation always resolve to the same session row.
//
//	conv_{ConversationSid}
func SessionKey(conversationSID string) string {
	return "conv_" + conversationSID
}
