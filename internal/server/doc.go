// Package server implements the MCP (Model Context Protocol) server for face overlay tools.
//
// This package provides a JSON-RPC 2.0 server that exposes a face detection
// session through the MCP protocol. A client loads a photo, asks for faces,
// and gets back the face boxes together with the photo with a rectangle drawn
// around each face.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - notifications/cancelled: Abandon a running tools/call
//   - ping: Health check
//
// Each tools/call runs in its own goroutine with its own context, so a long
// detection does not block cancellation or status queries. A cancelled call is
// not answered.
//
// # Available Tools
//
//   - face_load_image: Select the image to work on
//   - face_detect: Detect faces with the haar, dnn or pigo backend
//   - face_detector_status: Load state of every backend
//   - face_reload_detector: Retry a backend whose model failed to load
//   - face_cancel: Cancel the running detection
//   - face_crop_faces: Crop the faces of the last detection
//
// The first face_detect for a backend stages its model files into the cache
// directory and loads them. A request for a backend that is still loading
// fails fast and asks the user to try again.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: "Tool execution failed"
//   - data: the message to show the user, e.g. "load an image first"
//
// Finding no faces is not an error; face_detect then reports
// "no faces detected" with an empty face list.
//
// # Usage
//
//	srv := server.New(sess, logger.Named("server"), Version)
//	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
//	    logger.Fatal("server failed", zap.Error(err))
//	}
package server
