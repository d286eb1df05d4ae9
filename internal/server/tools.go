package server

import (
	"github.com/ironsheep/face-overlay-mcp/internal/detection"
)

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func backendNames() []string {
	var names []string
	for _, b := range detection.Backends() {
		names = append(names, string(b))
	}
	return names
}

func backendProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"enum":        backendNames(),
		"description": "Detector to use: haar (cascade, needs OpenCV), dnn (Caffe SSD, needs OpenCV) or pigo (pure Go). Defaults to haar when OpenCV is available, pigo otherwise",
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "face_load_image",
			Description: "Load an image file as the current image for face detection. Cancels any detection still running on the previous image. Wide images are downscaled for detection.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "face_detect",
			Description: "Detect faces in the current image and return their boxes together with the image with a rectangle drawn around each face. The first call for a backend stages and loads its model; the load keeps running if that call is cancelled, and a call made while it is still loading fails with a request to try again.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"backend": backendProperty(),
					"include_image": map[string]interface{}{
						"type":        "boolean",
						"description": "Return the annotated image as base64 PNG. Default true",
						"default":     true,
					},
					"output_path": map[string]interface{}{
						"type":        "string",
						"description": "Optional path to save the annotated image to (.png, .jpg, .bmp or .tiff)",
					},
				},
			},
		},
		{
			Name:        "face_detector_status",
			Description: "Report the load state of every detector backend (uninitialized, staging, ready or failed) and the last load error.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "face_reload_detector",
			Description: "Reset a detector backend so the next detection stages and loads its model again. Use after fixing a failed model load.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"backend": backendProperty(),
				},
				"required": []string{"backend"},
			},
		},
		{
			Name:        "face_cancel",
			Description: "Cancel the running face detection, if any.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "face_crop_faces",
			Description: "Crop every face found by the last detection out of the working image and return each as base64-encoded PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"padding": map[string]interface{}{
						"type":        "integer",
						"description": "Pixels added around each face, clamped to the image. Default 0",
						"default":     0,
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor (e.g., 2.0 to double size). Default 1.0",
						"default":     1.0,
					},
				},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
