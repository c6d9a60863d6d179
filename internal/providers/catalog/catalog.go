// Package catalog is the static model catalog the relay advertises. Every
// inbound model identifier maps onto the same upstream session capability;
// the catalog exists so OpenAI clients that enumerate /v1/models before
// calling see a stable, provenance-tagged list.
package catalog

// Model is one advertised model identifier.
type Model struct {
	ID      string
	OwnedBy string
	// Image marks identifiers that request image-capable generation.
	Image bool
}

var models = []Model{
	{ID: "gpt-3.5-turbo", OwnedBy: "gemini-relay"},
	{ID: "gpt-4", OwnedBy: "gemini-relay"},
	{ID: "gemini-2.5-flash", OwnedBy: "google"},
	{ID: "gemini-2.5-pro", OwnedBy: "google"},
	{ID: "g3-img-pro", OwnedBy: "google", Image: true},
}

// Models returns the advertised catalog.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// IsImageModel reports whether the identifier requests image generation.
func IsImageModel(id string) bool {
	for _, m := range models {
		if m.ID == id {
			return m.Image
		}
	}
	return false
}

// DefaultImageModel is used when an image request omits the model field.
const DefaultImageModel = "g3-img-pro"
