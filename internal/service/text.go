package service

// Commands and reply-keyboard labels the engine recognises in text events.
const (
	cmdStart      = "/start"
	cmdCancelText = "/cancel"

	labelRefresh = "🔄 Refresh"
	labelHome    = "🏠 Main menu"
	labelBack    = "⬅️ Back"
	labelAdmin   = "🛠 Admin panel"
)

func isHome(text string) bool {
	return text == cmdStart || text == labelRefresh || text == labelHome
}

const (
	txtDenied          = "⛔ You are not allowed to do that."
	txtNotFound        = "Not found. It may have been removed."
	txtUnknownAction   = "This button is no longer valid."
	txtUnknownOption   = "Unknown option. Please use the menu buttons."
	txtSlowDown        = "Too many requests, slow down."
	txtNothingToCancel = "Nothing to cancel."
	txtCancelled       = "Cancelled."
	txtEmptyMenu       = "The menu is empty for now."
	txtFlowExpired     = "That step has expired. Start again from the panel."

	txtAskHandle       = "Send the @username or numeric id of the new moderator.\nA username the bot has not seen yet is kept until that account writes in."
	txtBadHandle       = "That does not look like a username or id. Send @username or a numeric id."
	txtHandleNotFound  = "Could not find that account. Check the username or id and try again."
	txtAlreadyStaff    = "That account is already a moderator."
	txtPendingAdded    = "@%s has not written to the bot yet. They become a moderator as soon as they do."
	txtAskNodeText     = "Send the button text for the new item."
	txtDuplicateText   = "A button with this text already exists here. Send a different text."
	txtAskNodeKind     = "What should the button do?"
	txtKindByButtons   = "Choose the kind with the buttons above."
	txtAskTextContent  = "Send the text the button should show."
	txtAskLinkContent  = "Send the link (http, https or tg) the button should open."
	txtBadLink         = "That is not a valid link. Send an absolute http, https or tg url."
	txtAskNewText      = "Send the new button text."
	txtAskNewContent   = "Send the new content."
	txtEmptyInput      = "The message is empty. Send some text."
	txtTooLong         = "That text is too long for a button. Send a shorter one."
	txtAskBroadcast    = "Send the message to deliver to all %d active accounts."
	txtAskSupportReply = "Send your reply to %s."
	txtReplySent       = "✅ Reply sent."
	txtReplyFailed     = "❌ The reply could not be delivered. The user may have blocked the bot."
	txtTargetInactive  = "This account is disabled and cannot receive replies."
	txtSupportPrompt   = "✉️ %s\n\nWrite your message and we will answer here. Send /cancel to abort."
	txtSupportSent     = "✅ Your message was sent. We will answer here."
	txtHasChildren     = "Remove or move its children first."
	txtAtEdge          = "Already at the edge."
	txtProtected       = "This account is protected."
)
