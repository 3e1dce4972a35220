// Package titanconn provides a persistent TCP connection to an Avitech Titan 9000 or
// Rainier 3G video processor.
//
// A Connection dials the device on port 20036, waits for the device handshake and then
// accepts ASCII commands such as preset recalls. While connected it sends a no-op
// keep-alive frame every seven minutes so the device does not drop the idle session.
//
// Connection states:
//   - Disconnected: no socket; the initial state and the state after Close.
//   - Connecting: dialing.
//   - HandshakeWait: the socket is open, the handshake has not arrived yet.
//   - Connected: the handshake was accepted; commands and keep-alives are sent.
//   - Failed: the dial, the handshake or the socket failed; LastError holds the reason.
//
// Example:
//
//	cfg, err := titanconn.NewConnectionConfig("192.168.0.10", titan.DefaultPort)
//	if err != nil {
//	    return err
//	}
//	conn, _ := titanconn.NewConnection(ctx, cfg)
//	if err := conn.Open(true); err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	_ = conn.RecallPreset(1, 3) // XP 001000000 L preset3.GP1
package titanconn
