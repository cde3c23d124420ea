package lyrics

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"lyricsync/pkg/fileutil"
	"lyricsync/pkg/redis"
)

// Cache 按规范化后的歌曲 key 保存原始歌词
// 实现自己记录并吞掉错误
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, payload string)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (string, bool) { return "", false }
func (nopCache) Set(context.Context, string, string)        {}

var unsafeFilenameRe = regexp.MustCompile(`[\\/:*?"<>|]`)

func cacheKey(artist, title string) string {
	return strings.ToLower(unsafeFilenameRe.ReplaceAllString(artist+" - "+title, "-"))
}

// plainCacheKey 无时间轴歌词的缓存位置，只有 FetchText 会读
func plainCacheKey(key string) string {
	return key + ".plain"
}

// FileCache 在 dir 下每首歌保存一个 .lrc 文件
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+".lrc")
}

func (c *FileCache) Get(_ context.Context, key string) (string, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (c *FileCache) Set(_ context.Context, key, payload string) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		logger().Error().Err(err).Str("dir", c.dir).Msg("Failed to create cache directory")
		return
	}
	if err := fileutil.WriteFileOverwrite(c.path(key), []byte(payload), 0644); err != nil {
		logger().Error().Err(err).Str("key", key).Msg("Failed to write cache file")
	}
}

const redisKeyPrefix = "lyricsync:lrc:"

// RedisCache 把歌词存进 redis 并设置过期时间
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, redisKeyPrefix+key)
	if err != nil {
		logger().Warn().Err(err).Str("key", key).Msg("Redis get failed")
		return "", false
	}
	return v, v != ""
}

func (c *RedisCache) Set(ctx context.Context, key, payload string) {
	if err := c.client.SetWithExpiration(ctx, redisKeyPrefix+key, payload, c.ttl); err != nil {
		logger().Warn().Err(err).Str("key", key).Msg("Redis set failed")
	}
}
