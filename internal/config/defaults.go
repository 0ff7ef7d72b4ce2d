package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7990
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/omoide/data/ltm.db"
	}
	if cfg.Storage.IndexSnapshotPath == "" {
		cfg.Storage.IndexSnapshotPath = "/usr/local/var/omoide/data/vector_index.bin"
	}
	if cfg.Storage.PositionMapPath == "" {
		cfg.Storage.PositionMapPath = "/usr/local/var/omoide/data/vector_mapping.json"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/omoide/data/indices/keyword"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "http"
	}
	if cfg.Embedding.ServiceURL == "" {
		cfg.Embedding.ServiceURL = "http://127.0.0.1:7999/v1/embeddings"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "qwen3-embedding-0.6b"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 10
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 50
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/omoide/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Memory.DefaultK == 0 {
		cfg.Memory.DefaultK = 5
	}
	if cfg.Memory.ShortTermTTLSeconds == 0 {
		cfg.Memory.ShortTermTTLSeconds = 1800
	}
	if cfg.Memory.MaxConversations == 0 {
		cfg.Memory.MaxConversations = 10000
	}
	if cfg.Skills.ManifestPath == "" {
		cfg.Skills.ManifestPath = "/usr/local/etc/omoide/skills.yaml"
	}
}
