package config

import (
	"testing"
	"time"
)

func TestProjections(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("CACHE_TYPE", "redis")
	t.Setenv("FUSION_LENGTH_MARGIN", "5")
	t.Setenv("EXTRACT_TIMEOUT", "30")
	t.Setenv("CORS_ORIGINS", "https://app.example.com")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("CONFIDENCE_THRESHOLD", "0")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	cc := cfg.CacheConfig()
	if cc.Type != "redis" || cc.RedisAddr != "cache.internal:6380" || cc.TTL != 24*time.Hour {
		t.Errorf("CacheConfig = %+v", cc)
	}

	ec := cfg.EngineConfig()
	if ec.Policy.LengthMargin != 5 || ec.Policy.MinSimilarity != 0.85 || ec.ConfidenceThreshold != 0 {
		t.Errorf("EngineConfig = %+v", ec)
	}

	xo := cfg.ExtractOptions()
	if xo.Timeout != 30*time.Second || xo.MaxFileSize != 50*1024*1024 || !xo.CacheEnabled {
		t.Errorf("ExtractOptions = %+v", xo)
	}

	sc := cfg.ServerConfig("1.2.3")
	if sc.CORSOrigins != "https://app.example.com" || sc.Addr != "0.0.0.0:9000" || sc.Version != "1.2.3" {
		t.Errorf("ServerConfig = %+v", sc)
	}

	if v := cfg.Validator(); v.MinHeight != 500 || v.ContrastThreshold != 15 {
		t.Errorf("Validator = %+v", v)
	}
	if u := cfg.Upscaler(); u.Factor != 2 {
		t.Errorf("Upscaler = %+v", u)
	}
}
