// Package titan implements the binary framing protocol spoken by Avitech Titan 9000 and
// Rainier 3G video processors on TCP port 20036.
//
// This package offers frame encoding/decoding, stream re-framing and response interpretation.
// It also provides the generic connection state manager and task manager used by the
// titanconn package.
//
// Frames:
// Every frame starts with a 4-byte magic header, host frames with 55 AA 5A A5 and device
// frames with A5 5A AA 55, followed by a little-endian length and a 14-byte header in total.
//   - Encode, EncodeCommand: build an "execute ASCII command" frame (command id 02 13).
//   - NewKeepAliveFrame: build the no-op frame (command id 00 00) sent periodically.
//   - Decode: parse a device frame into an InboundFrame.
//   - DecodeRequest: parse and verify a host frame, used by device simulators.
//   - Reassembler: cut a TCP byte stream into frames by their length field.
//
// Responses:
// Classify and Interpret turn device frames into a Response:
//   - HandshakeAck: the device accepted the session and assigned a socket id.
//   - HandshakeNack: the device refused the session, its limit of three sessions is reached.
//   - CommandResponse: the outcome of a command; non-zero error codes map to an ErrorCategory.
//
// Presets:
// RecallPresetCommand builds the ASCII command "XP GGG000000 L preset<P>.GP<G>" that loads
// preset P (1-14) of group G (1-99).
package titan
