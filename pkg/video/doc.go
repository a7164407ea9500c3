// Package video implements the video session manager: access-token minting
// with lazy provider-room creation, and room deletion with participant
// eviction.
//
// Provider rooms are created on first use, not when the local Room record
// is written. Two requests racing to create the same room converge through
// the provider's unique-name constraint: the loser fetches the room the
// winner created. Room visibility rides on the stored ACL, while the
// destructive operations check conference roles explicitly.
package video
