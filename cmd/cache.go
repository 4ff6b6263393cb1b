package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"imageocr/internal/cache"
	"imageocr/internal/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the OCR result cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired cache entries",
	Args:  cobra.NoArgs,
	RunE:  runCachePrune,
}

var cacheGetCmd = &cobra.Command{
	Use:   "get [file]",
	Short: "Print the cached text for an image file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheGet,
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict [file|key]",
	Short: "Remove the cached text for an image file or a content hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheEvict,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePruneCmd, cacheGetCmd, cacheEvictCmd)
}

func openCacheCmd(cmd *cobra.Command) (context.Context, context.CancelFunc, cache.Cache, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	c, err := cache.Open(ctx, cfg.CacheConfig())
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to open %s cache: %w", cfg.CacheType, err)
	}
	return ctx, cancel, c, nil
}

// cacheKey hashes the file at arg, or takes arg as a key when no such file exists.
func cacheKey(arg string) (string, error) {
	content, err := os.ReadFile(arg)
	if err == nil {
		return cache.Key(content), nil
	}
	if os.IsNotExist(err) {
		if !isHexKey(arg) {
			return "", fmt.Errorf("%s is neither a file nor a content hash", arg)
		}
		return arg, nil
	}
	return "", fmt.Errorf("failed to read %s: %w", arg, err)
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cache")

	ctx, cancel, c, err := openCacheCmd(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	removed, err := c.ClearExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to prune cache: %w", err)
	}
	log.Info().Int("removed", removed).Msg("Expired cache entries removed")
	fmt.Printf("Removed %d expired entries\n", removed)
	return nil
}

func runCacheGet(cmd *cobra.Command, args []string) error {
	ctx, cancel, c, err := openCacheCmd(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	key, err := cacheKey(args[0])
	if err != nil {
		return err
	}
	text, ok, err := c.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("cache lookup failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("no cached text for %s", key)
	}
	fmt.Println(text)
	return nil
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cache")

	ctx, cancel, c, err := openCacheCmd(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	key, err := cacheKey(args[0])
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to evict %s: %w", key, err)
	}
	log.Info().Str("hash", key).Msg("Cache entry evicted")
	return nil
}

func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
