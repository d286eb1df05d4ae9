package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ironsheep/face-overlay-mcp/internal/detection"
	"github.com/ironsheep/face-overlay-mcp/internal/imaging"
	"github.com/ironsheep/face-overlay-mcp/internal/session"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "face_load_image", "face_detect").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// toolError carries the user-facing text of a failure next to its cause.
type toolError struct {
	msg string
	err error
}

func (e *toolError) Error() string { return e.msg }
func (e *toolError) Unwrap() error { return e.err }

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000
// whose data is the message meant for the user.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Info("tool failed", zap.String("tool", params.Name), zap.Error(err))
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "face_load_image":
		return s.handleLoadImage(args)
	case "face_detect":
		return s.handleDetect(ctx, args)
	case "face_detector_status":
		return s.handleDetectorStatus()
	case "face_reload_detector":
		return s.handleReloadDetector(args)
	case "face_cancel":
		return s.handleCancel()
	case "face_crop_faces":
		return s.handleCropFaces(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// defaultBackend is used when face_detect names none.
func defaultBackend() detection.Backend {
	if detection.OpenCVAvailable() {
		return detection.BackendHaar
	}
	return detection.BackendPigo
}

type loadImageArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleLoadImage(args json.RawMessage) (interface{}, error) {
	var a loadImageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errors.New("path is required")
	}
	return s.session.Load(a.Path)
}

type detectArgs struct {
	Backend      string `json:"backend"`
	IncludeImage *bool  `json:"include_image"`
	OutputPath   string `json:"output_path"`
}

// DetectResult is the face_detect response.
type DetectResult struct {
	Backend string `json:"backend"`
	Count   int    `json:"count"`
	Message string `json:"message"`

	// Width and Height are the working image dimensions the boxes refer to.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Scale maps working coordinates back to the source image.
	Scale float64 `json:"scale"`

	Faces     []detection.Face `json:"faces"`
	ElapsedMS int64            `json:"elapsed_ms"`

	ImageBase64 string `json:"image_base64,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	OutputPath  string `json:"output_path,omitempty"`
}

func (s *Server) handleDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a detectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	b := defaultBackend()
	if a.Backend != "" {
		var err error
		if b, err = detection.ParseBackend(a.Backend); err != nil {
			return nil, err
		}
	}

	o := s.session.Detect(ctx, b)
	if o.Err != nil {
		return nil, &toolError{msg: o.Message(), err: o.Err}
	}

	res := &DetectResult{
		Backend:   string(o.Backend),
		Count:     len(o.Result.Faces),
		Message:   o.Message(),
		Width:     o.Result.Width,
		Height:    o.Result.Height,
		Scale:     o.SourceScale(),
		Faces:     o.Result.Faces,
		ElapsedMS: o.Elapsed.Milliseconds(),
	}

	if a.IncludeImage == nil || *a.IncludeImage {
		encoded, err := imaging.EncodeBase64PNG(o.Annotated)
		if err != nil {
			return nil, fmt.Errorf("failed to encode annotated image: %w", err)
		}
		res.ImageBase64 = encoded
		res.MimeType = imaging.MimeType(imaging.PNG)
	}
	if a.OutputPath != "" {
		if err := imaging.SaveImage(a.OutputPath, o.Annotated); err != nil {
			return nil, err
		}
		res.OutputPath = a.OutputPath
	}
	return res, nil
}

func (s *Server) handleDetectorStatus() (interface{}, error) {
	return map[string]interface{}{
		"opencv":    detection.OpenCVAvailable(),
		"detectors": s.session.Status(),
	}, nil
}

type reloadArgs struct {
	Backend string `json:"backend"`
}

func (s *Server) handleReloadDetector(args json.RawMessage) (interface{}, error) {
	var a reloadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	b, err := detection.ParseBackend(a.Backend)
	if err != nil {
		return nil, err
	}
	reset, err := s.session.Reload(b)
	if err != nil {
		return nil, fmt.Errorf("failed to release %s detector: %w", b, err)
	}
	return map[string]interface{}{
		"backend": b,
		"reset":   reset,
	}, nil
}

func (s *Server) handleCancel() (interface{}, error) {
	return map[string]interface{}{
		"cancelled": s.session.Cancel(),
	}, nil
}

type cropFacesArgs struct {
	Padding int     `json:"padding"`
	Scale   float64 `json:"scale"`
}

func (s *Server) handleCropFaces(args json.RawMessage) (interface{}, error) {
	var a cropFacesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	if a.Padding < 0 || a.Scale < 0 {
		return nil, errors.New("padding and scale must not be negative")
	}

	crops, err := s.session.CropFaces(a.Padding, a.Scale)
	switch {
	case errors.Is(err, session.ErrNoResult):
		return nil, &toolError{msg: "run face_detect first", err: err}
	case errors.Is(err, session.ErrNoImage), errors.Is(err, session.ErrClosed):
		return nil, &toolError{msg: session.UserMessage(nil, err), err: err}
	case err != nil:
		return nil, err
	}
	return map[string]interface{}{
		"count": len(crops),
		"faces": crops,
	}, nil
}
