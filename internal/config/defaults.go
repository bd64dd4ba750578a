package config

import (
	"fmt"
	"time"

	"dario.cat/mergo"
)

// DefaultRules is the keyword rule table used when the config defines none.
// Triggers are matched as lowercase substrings.
func DefaultRules() map[string][]string {
	return map[string][]string{
		"nsfw":        {"nsfw", "adult", "nude", "nudity", "explicit"},
		"style":       {"photorealistic", "anime", "cartoon", "watercolor", "oil painting", "sketch", "cyberpunk", "baroque"},
		"lighting":    {"sunset", "studio lighting", "soft light", "rim light", "backlight", "volumetric", "hdr lighting", "ambient light", "dramatic lighting"},
		"composition": {"close up", "close-up", "wide angle", "wide shot", "rule of thirds", "portrait", "landscape"},
		"mood":        {"happy", "sad", "mysterious", "melancholic", "dark", "vibrant", "dreamy", "energetic", "tranquil"},
		"technical":   {"high detail", "4k", "8k", "sharp", "hdr", "ultra-detailed", "depth of field", "highres"},
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			DatabasePath:  "prompts.db",
			IndexPath:     "index/prompts.bleve",
			CheckpointDir: "state",
		},
		Fetch: FetchConfig{
			Mode:             ModeAPI,
			BaseURL:          "https://civitai.com/api/v1",
			Endpoint:         "/images",
			PageSize:         50,
			MaxPages:         5,
			InterPageDelay:   time.Second,
			Timeout:          30 * time.Second,
			MaxRetries:       3,
			RetryWait:        time.Second,
			RetryMaxWait:     30 * time.Second,
			UserAgent:        "atsume/1.0",
			TokenEnv:         "CIVITAI_API_KEY",
			RPCBaseURL:       "https://civitai.com/api/trpc",
			RPCProcedure:     "image.getImagesAsPostsInfinite",
			SecondaryIDParam: "modelVersionId",
			CaptureDir:       "captures",
		},
		Extract: ExtractConfig{
			ContainerKeys: []string{"items", "data", "results", "rows", "images", "imagesAsPosts", "posts"},
			PromptKeys: []string{
				"fullPrompt", "positivePrompt", "prompt", "positive_prompt", "full_prompt", "positivePromptText",
				"text", "body", "caption",
			},
			NegativeKeys: []string{"negativePrompt", "negative_prompt", "negativePromptText"},
			IDKeys:       []string{"id", "imageId", "postId", "uuid"},
			ModelIDKeys:  []string{"modelVersionId", "modelId", "model_id"},
			MetaKeys:     []string{"meta", "metadata"},
		},
		Categorize: CategorizeConfig{
			DefaultTag:     "basic",
			MinClusterSize: 5,
			Neighbors:      15,
			Components:     2,
			KMeansK:        3,
			SummaryWords:   5,
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOpenAI,
			Endpoint:   "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			APIKeyEnv:  "OPENAI_API_KEY",
			Dimensions: 384,
			ModelPath:  "models/all-MiniLM-L6-v2.onnx",
			MaxTokens:  256,
			CacheSize:  10000,
		},
		Watch: WatchConfig{
			Extensions: []string{".json", ".jsonl", ".html"},
		},
	}
}

// ApplyDefaults fills every zero value in cfg from the built-in defaults.
// A config-supplied rule table replaces the default table instead of merging with it.
func ApplyDefaults(cfg *Config) error {
	if len(cfg.Categorize.Rules) == 0 {
		cfg.Categorize.Rules = DefaultRules()
	}
	d := defaults()
	if err := mergo.Merge(cfg, d); err != nil {
		return fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return nil
}
