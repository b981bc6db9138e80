package chat

// Gemini model IDs used for image editing.
//
// | Model Name               | API Model ID               | Use Case                       |
// |--------------------------|----------------------------|--------------------------------|
// | Gemini 3 Pro Image       | gemini-3-pro-image-preview | Highest-quality edits          |
// | Gemini 2.5 Flash Image   | gemini-2.5-flash-image     | Fast, low-cost edits           |
// | Gemini 2.5 Flash-Lite    | gemini-2.5-flash-lite      | API key validation (text only) |
const (
	// ModelGemini3ProImage is for advanced image generation/edit.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"

	// ModelGemini25FlashImage is the faster image generation/edit model.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"

	// ModelGemini25FlashLite is for high-throughput, lowest cost text calls.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// DefaultImageModel is the model used when none is configured.
const DefaultImageModel = ModelGemini3ProImage
