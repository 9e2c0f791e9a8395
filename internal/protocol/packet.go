// Package protocol defines the hub wire format: length-prefixed frames that
// carry a one-byte Command followed by a command-specific payload.
//
// Frame layout (all multi-byte numbers little-endian):
//
//	[int32 length][uint8 command][payload ...]
//
// length counts the command byte and the payload, not the prefix itself.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// LengthSize is the size of the frame length prefix.
const LengthSize = 4

// MaxFrameSize bounds a single frame body (command + payload). Voice and
// room listings are the largest payloads and stay far below it.
const MaxFrameSize = 1 << 20

// Command identifies frame semantics. The values are part of the wire format.
type Command uint8

const (
	CmdConnect Command = iota
	CmdDisconnect
	CmdGetRooms
	CmdCreateRoom
	CmdJoinRoom
	CmdGetRoomInfo
	CmdLeaveRoom
	CmdDestroyRoom
	CmdTransferHost
	CmdSetSelectedSong
	CmdStartLevel
	CmdUpdatePlayerInfo
	CmdPlayerReady
	CmdSetGameState
	CmdDisplayMessage
	CmdSendEventMessage
	CmdGetChannelInfo
	CmdJoinChannel
	CmdLeaveChannel
	CmdGetSongDuration
	CmdUpdateVoIPData
	CmdGetRandomSongInfo

	commandCount
)

var commandNames = [...]string{
	"Connect", "Disconnect", "GetRooms", "CreateRoom", "JoinRoom", "GetRoomInfo",
	"LeaveRoom", "DestroyRoom", "TransferHost", "SetSelectedSong", "StartLevel",
	"UpdatePlayerInfo", "PlayerReady", "SetGameState", "DisplayMessage",
	"SendEventMessage", "GetChannelInfo", "JoinChannel", "LeaveChannel",
	"GetSongDuration", "UpdateVoIPData", "GetRandomSongInfo",
}

// Valid reports whether c belongs to the closed command set.
func (c Command) Valid() bool { return c < commandCount }

func (c Command) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
	return commandNames[c]
}

// AppendFrame appends a complete frame (length prefix included) to dst.
func AppendFrame(dst []byte, body []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...)
}

// Peek returns the command of a frame body without decoding its payload.
func Peek(body []byte) (Command, bool) {
	if len(body) == 0 {
		return 0, false
	}
	c := Command(body[0])
	return c, c.Valid()
}
