// Package chat implements the chat session manager: provider token
// minting, channel creation (DM, private group, public group), invites,
// message reactions and moderated message deletion.
//
// DM channels are idempotent by construction: their unique name is the
// sorted pair of participant profile ids, so a second create for the same
// pair resolves to the existing channel. Channel creation that fails part
// way is compensated by deleting the channel, never leaving orphans.
package chat
